package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/registry"
	"github.com/yourusername/lapwatch/internal/repository"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, lastName, firstName string, gender models.Gender) ([]registry.Runner, error) {
	args := m.Called(ctx, lastName, firstName, gender)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]registry.Runner), args.Error(1)
}

func (m *MockSearcher) GetProfile(ctx context.Context, personID int64) (*registry.Profile, error) {
	args := m.Called(ctx, personID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.Profile), args.Error(1)
}

type matcherEnv struct {
	repos    *repository.Repositories
	searcher *MockSearcher
	matcher  *Matcher
	race     *models.Race
}

func newMatcherEnv(t *testing.T) *matcherEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	repos := repository.NewMemoryRepositories()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	race := &models.Race{Name: "Spring 24h", StartTime: &start, DurationHours: 24}
	require.NoError(t, repos.Race.Create(context.Background(), race))

	searcher := new(MockSearcher)
	m := NewMatcher(searcher, repos, Options{
		AutoAcceptThreshold: 0.8,
		AmbiguityMargin:     0.05,
		BirthYearTolerance:  1,
		MaxCandidates:       10,
		Timeout:             time.Second,
	}, log)

	return &matcherEnv{repos: repos, searcher: searcher, matcher: m, race: race}
}

func (e *matcherEnv) addCompetitor(t *testing.T, bib int, first, last string, gender models.Gender, nation string, age int) *models.Competitor {
	t.Helper()
	c := &models.Competitor{
		RaceID:      e.race.ID,
		Bib:         bib,
		FirstName:   first,
		LastName:    last,
		Gender:      gender,
		Nationality: nation,
		Age:         intPtr(age),
	}
	require.NoError(t, e.repos.Competitor.Create(context.Background(), c))
	return c
}

func (e *matcherEnv) reload(t *testing.T, id uuid.UUID) *models.Competitor {
	t.Helper()
	c, err := e.repos.Competitor.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func runner(id int64, first, last, sex, nation string, yob int, pb string) registry.Runner {
	raw := fmt.Sprintf(`{"PersonID":%d,"Firstname":%q,"Lastname":%q,"Sex":%q,"Nation":%q,"YOB":%d,"PersonalBest":%q}`,
		id, first, last, sex, nation, yob, pb)
	var r registry.Runner
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		panic(err)
	}
	return r
}

func TestMatchAutoAccepts(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 101, "Ana", "Silva", models.GenderFemale, "POR", 40)

	env.searcher.On("Search", mock.Anything, "Silva", "Ana", models.GenderFemale).Return([]registry.Runner{
		runner(4411, "Ana", "Silva", "W", "POR", 1986, "231.456 km"),
		runner(4412, "Ana", "Silva", "W", "BRA", 1961, ""),
	}, nil)

	result, err := env.matcher.MatchByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, result.SelectedID)
	assert.Equal(t, int64(4411), *result.SelectedID)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, 1.0, result.Candidates[0].Confidence)
	assert.Greater(t, result.Candidates[0].Confidence, result.Candidates[1].Confidence)

	stored := env.reload(t, c.ID)
	assert.Equal(t, models.MatchStatusMatched, stored.MatchStatus)
	require.NotNil(t, stored.RegistryID)
	assert.Equal(t, int64(4411), *stored.RegistryID)
	require.NotNil(t, stored.MatchConfidence)
	assert.Equal(t, 1.0, *stored.MatchConfidence)
	require.NotNil(t, stored.PersonalBestKm)
	assert.InDelta(t, 231.456, *stored.PersonalBestKm, 1e-9)
	env.searcher.AssertExpectations(t)
}

func TestMatchGenderGate(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 102, "Sam", "Taylor", models.GenderFemale, "GBR", 30)

	env.searcher.On("Search", mock.Anything, "Taylor", "Sam", models.GenderFemale).Return([]registry.Runner{
		runner(7, "Sam", "Taylor", "M", "GBR", 1996, ""),
	}, nil)

	result, err := env.matcher.Match(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, result.SelectedID)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, 0.0, result.Candidates[0].Confidence)
	assert.Equal(t, models.MatchStatusUnmatched, env.reload(t, c.ID).MatchStatus)
}

func TestMatchAmbiguousCandidatesStayUnmatched(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 103, "John", "Smith", models.GenderMale, "USA", 45)
	c.Age = nil

	env.searcher.On("Search", mock.Anything, "Smith", "John", models.GenderMale).Return([]registry.Runner{
		runner(1, "John", "Smith", "M", "USA", 1970, ""),
		runner(2, "John", "Smith", "M", "US", 1990, ""),
	}, nil)

	result, err := env.matcher.Match(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, result.SelectedID)
	require.Len(t, result.Candidates, 2)
	assert.GreaterOrEqual(t, result.Candidates[0].Confidence, 0.8)
	assert.GreaterOrEqual(t, result.Candidates[1].Confidence, 0.8)
	assert.Equal(t, models.MatchStatusUnmatched, env.reload(t, c.ID).MatchStatus)
}

func TestMatchBelowThreshold(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 104, "Lena", "Berg", models.GenderFemale, "SWE", 33)

	env.searcher.On("Search", mock.Anything, "Berg", "Lena", models.GenderFemale).Return([]registry.Runner{
		runner(9, "Lena", "Berg", "W", "NOR", 1960, ""),
	}, nil)

	result, err := env.matcher.Match(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, result.SelectedID)
	assert.InDelta(t, 0.7, result.Candidates[0].Confidence, 1e-9)
}

func TestMatchNameAndGenderAloneAutoAccepts(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 110, "Lena", "Berg", models.GenderFemale, "", 0)

	env.searcher.On("Search", mock.Anything, "Berg", "Lena", models.GenderFemale).Return([]registry.Runner{
		runner(19, "Lena", "Berg", "W", "NOR", 1990, ""),
	}, nil)

	result, err := env.matcher.Match(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, result.SelectedID)
	assert.Equal(t, int64(19), *result.SelectedID)
	assert.InDelta(t, 0.8, result.Candidates[0].Confidence, 1e-9)
	assert.Equal(t, models.MatchStatusMatched, env.reload(t, c.ID).MatchStatus)
}

func TestMatchNoCandidates(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 105, "Nobody", "Known", models.GenderMale, "FRA", 50)

	env.searcher.On("Search", mock.Anything, "Known", "Nobody", models.GenderMale).Return([]registry.Runner{}, nil)

	result, err := env.matcher.Match(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, result.SelectedID)
	assert.Empty(t, result.Candidates)
	assert.Equal(t, models.MatchStatusUnmatched, env.reload(t, c.ID).MatchStatus)
}

func TestMatchRegistryErrorDoesNotMutate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "network failure", err: &registry.Error{Endpoint: "search", Message: "request failed", Cause: errors.New("connection refused")}},
		{name: "timeout", err: context.DeadlineExceeded},
		{name: "circuit open", err: registry.ErrCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMatcherEnv(t)
			c := env.addCompetitor(t, 106, "Ana", "Silva", models.GenderFemale, "POR", 40)
			registryID := int64(55)
			confidence := 0.9
			require.NoError(t, env.repos.Competitor.UpdateMatch(context.Background(), c.ID, repository.MatchUpdate{
				Status:     models.MatchStatusMatched,
				RegistryID: &registryID,
				Confidence: &confidence,
			}))

			env.searcher.On("Search", mock.Anything, "Silva", "Ana", models.GenderFemale).Return(nil, tt.err)

			result, err := env.matcher.MatchByID(context.Background(), c.ID)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, models.KindUpstream, models.KindOf(err))
			assert.ErrorIs(t, err, tt.err)

			stored := env.reload(t, c.ID)
			assert.Equal(t, models.MatchStatusMatched, stored.MatchStatus)
			assert.Equal(t, registryID, *stored.RegistryID)
		})
	}
}

func TestMatchUnknownCompetitor(t *testing.T) {
	env := newMatcherEnv(t)

	_, err := env.matcher.MatchByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
	env.searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestManualMatch(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 107, "Ana", "Silva", models.GenderFemale, "POR", 40)

	env.searcher.On("GetProfile", mock.Anything, int64(4411)).Return(&registry.Profile{
		PersonID: 4411, Lastname: "Silva", Firstname: "Ana", YOB: 1986, Nation: "POR", Sex: "W",
	}, nil)
	env.searcher.On("Search", mock.Anything, "Silva", "Ana", models.GenderFemale).Return([]registry.Runner{
		runner(4411, "Ana", "Silva", "W", "POR", 1986, "201.5 km"),
	}, nil)

	updated, err := env.matcher.ManualMatch(context.Background(), c.ID, 4411)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusMatched, updated.MatchStatus)

	stored := env.reload(t, c.ID)
	assert.Equal(t, models.MatchStatusMatched, stored.MatchStatus)
	assert.Equal(t, int64(4411), *stored.RegistryID)
	assert.Equal(t, 1.0, *stored.MatchConfidence)
	assert.InDelta(t, 201.5, *stored.PersonalBestKm, 1e-9)
}

func TestManualMatchRejectsUnknownRegistryID(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 108, "Ana", "Silva", models.GenderFemale, "POR", 40)

	env.searcher.On("GetProfile", mock.Anything, int64(999)).
		Return(nil, &registry.Error{Endpoint: "profile", StatusCode: 404, Message: "runner 999 not found"})

	_, err := env.matcher.ManualMatch(context.Background(), c.ID, 999)
	require.Error(t, err)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
	assert.Equal(t, models.MatchStatusUnmatched, env.reload(t, c.ID).MatchStatus)
}

func TestMarkNoMatchAndUnmatch(t *testing.T) {
	env := newMatcherEnv(t)
	c := env.addCompetitor(t, 109, "Ana", "Silva", models.GenderFemale, "POR", 40)
	registryID := int64(12)
	confidence := 0.95
	require.NoError(t, env.repos.Competitor.UpdateMatch(context.Background(), c.ID, repository.MatchUpdate{
		Status: models.MatchStatusMatched, RegistryID: &registryID, Confidence: &confidence,
	}))

	updated, err := env.matcher.MarkNoMatch(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusNoMatch, updated.MatchStatus)
	stored := env.reload(t, c.ID)
	assert.Equal(t, models.MatchStatusNoMatch, stored.MatchStatus)
	assert.Nil(t, stored.RegistryID)
	assert.Nil(t, stored.MatchConfidence)

	_, err = env.matcher.Unmatch(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusUnmatched, env.reload(t, c.ID).MatchStatus)
}

func TestMatchKeepsManualDecisions(t *testing.T) {
	tests := []struct {
		name   string
		decide func(env *matcherEnv, id uuid.UUID)
		status models.MatchStatus
	}{
		{
			name: "no-match stays no-match",
			decide: func(env *matcherEnv, id uuid.UUID) {
				_, err := env.matcher.MarkNoMatch(context.Background(), id)
				require.NoError(t, err)
			},
			status: models.MatchStatusNoMatch,
		},
		{
			name: "manual match is not replaced",
			decide: func(env *matcherEnv, id uuid.UUID) {
				registryID := int64(77)
				confidence := 1.0
				require.NoError(t, env.repos.Competitor.UpdateMatch(context.Background(), id, repository.MatchUpdate{
					Status: models.MatchStatusMatched, RegistryID: &registryID, Confidence: &confidence,
				}))
			},
			status: models.MatchStatusMatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMatcherEnv(t)
			c := env.addCompetitor(t, 120, "Ana", "Silva", models.GenderFemale, "SWE", 40)
			tt.decide(env, c.ID)
			before := env.reload(t, c.ID)

			env.searcher.On("Search", mock.Anything, "Silva", "Ana", models.GenderFemale).Return([]registry.Runner{
				runner(4411, "Ana", "Silva", "W", "SWE", 1986, "231.456 km"),
			}, nil)

			result, err := env.matcher.MatchByID(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Nil(t, result.SelectedID)
			require.Len(t, result.Candidates, 1)
			assert.Equal(t, int64(4411), result.Candidates[0].RegistryID)

			after := env.reload(t, c.ID)
			assert.Equal(t, tt.status, after.MatchStatus)
			assert.Equal(t, before.RegistryID, after.RegistryID)
			assert.Equal(t, before.MatchConfidence, after.MatchConfidence)
		})
	}
}

func TestMatchRace(t *testing.T) {
	env := newMatcherEnv(t)
	auto := env.addCompetitor(t, 201, "Ana", "Silva", models.GenderFemale, "POR", 40)
	env.addCompetitor(t, 202, "Nobody", "Known", models.GenderMale, "FRA", 50)
	done := env.addCompetitor(t, 203, "Already", "Done", models.GenderMale, "GBR", 30)
	skipped := env.addCompetitor(t, 204, "Not", "Listed", models.GenderMale, "GBR", 30)

	registryID := int64(3)
	confidence := 0.9
	require.NoError(t, env.repos.Competitor.UpdateMatch(context.Background(), done.ID, repository.MatchUpdate{
		Status: models.MatchStatusMatched, RegistryID: &registryID, Confidence: &confidence,
	}))
	require.NoError(t, env.repos.Competitor.UpdateMatch(context.Background(), skipped.ID, repository.MatchUpdate{
		Status: models.MatchStatusNoMatch,
	}))

	env.searcher.On("Search", mock.Anything, "Silva", "Ana", models.GenderFemale).Return([]registry.Runner{
		runner(4411, "Ana", "Silva", "W", "POR", 1986, ""),
	}, nil).Once()
	env.searcher.On("Search", mock.Anything, "Known", "Nobody", models.GenderMale).Return([]registry.Runner{}, nil).Once()

	batch, err := env.matcher.MatchRace(context.Background(), env.race.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Attempted)
	assert.Equal(t, 1, batch.AutoMatched)
	assert.Equal(t, 1, batch.NoResults)
	assert.Equal(t, 0, batch.Failed)
	env.searcher.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, models.MatchStatusMatched, env.reload(t, auto.ID).MatchStatus)

	stats, err := env.matcher.Stats(context.Background(), env.race.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Equal(t, 1, stats.NoMatch)
	assert.InDelta(t, 0.95, stats.AverageConfidence, 1e-9)
}

func TestMatchRaceStopsWhenCircuitOpens(t *testing.T) {
	env := newMatcherEnv(t)
	env.addCompetitor(t, 301, "Ana", "Silva", models.GenderFemale, "POR", 40)
	env.addCompetitor(t, 302, "Ben", "Jones", models.GenderMale, "GBR", 41)

	env.searcher.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, registry.ErrCircuitOpen).Once()

	batch, err := env.matcher.MatchRace(context.Background(), env.race.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrCircuitOpen)
	assert.Equal(t, 1, batch.Failed)
	env.searcher.AssertNumberOfCalls(t, "Search", 1)
}
