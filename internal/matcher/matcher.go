// Package matcher resolves race competitors against the external results
// registry.
package matcher

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/registry"
	"github.com/yourusername/lapwatch/internal/repository"
	"github.com/yourusername/lapwatch/internal/tracing"
)

// Searcher is the part of the registry client the matcher needs
type Searcher interface {
	Search(ctx context.Context, lastName, firstName string, gender models.Gender) ([]registry.Runner, error)
	GetProfile(ctx context.Context, personID int64) (*registry.Profile, error)
}

// Options tunes the auto-accept decision
type Options struct {
	AutoAcceptThreshold float64
	AmbiguityMargin     float64
	BirthYearTolerance  int
	MaxCandidates       int
	Timeout             time.Duration
	Weights             Weights
}

// OptionsFromConfig builds options from the matcher and registry sections
func OptionsFromConfig(m config.MatcherConfig, r config.RegistryConfig) Options {
	return Options{
		AutoAcceptThreshold: m.AutoAcceptThreshold,
		AmbiguityMargin:     m.AmbiguityMargin,
		BirthYearTolerance:  m.BirthYearTolerance,
		MaxCandidates:       m.MaxCandidates,
		Timeout:             r.Timeout(),
		Weights:             DefaultWeights(),
	}
}

// Matcher scores registry candidates and records match decisions
type Matcher struct {
	registry    Searcher
	competitors repository.CompetitorRepository
	races       repository.RaceRepository
	opts        Options
	audit       *logger.RaceLogger
	logger      *logrus.Entry
	now         func() time.Time
}

// NewMatcher creates a new matcher
func NewMatcher(searcher Searcher, repos *repository.Repositories, opts Options, log *logrus.Logger) *Matcher {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	return &Matcher{
		registry:    searcher,
		competitors: repos.Competitor,
		races:       repos.Race,
		opts:        opts,
		audit:       logger.NewRaceLogger(log),
		logger:      logger.Component(log, "matcher"),
		now:         time.Now,
	}
}

// MatchByID loads a competitor and matches it
func (m *Matcher) MatchByID(ctx context.Context, competitorID uuid.UUID) (*models.MatchResult, error) {
	competitor, err := m.loadCompetitor(ctx, "match competitor", competitorID)
	if err != nil {
		return nil, err
	}
	return m.Match(ctx, competitor)
}

// Match queries the registry for the competitor and scores every candidate.
// A clear winner above the threshold is stored as the competitor's match;
// otherwise the competitor is left as it is and the ranked candidates are
// returned for manual review. A competitor that is already matched or marked
// no-match keeps its decision; only the candidates are returned. Registry
// failures never change the competitor.
func (m *Matcher) Match(ctx context.Context, competitor *models.Competitor) (*models.MatchResult, error) {
	const op = "match competitor"

	result := &models.MatchResult{
		CompetitorID: competitor.ID,
		Bib:          competitor.Bib,
		Candidates:   []models.MatchCandidate{},
	}

	searchCtx := ctx
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	runners, err := m.registry.Search(searchCtx, competitor.LastName, competitor.FirstName, competitor.Gender)
	if err != nil {
		metrics.RecordMatchDecision(metrics.MatchDecisionError)
		m.logger.WithError(err).WithField("bib", competitor.Bib).Warn("Registry search failed")
		return nil, models.NewUpstreamError(op, "registry search failed", err)
	}

	input := InputFor(competitor, m.raceYear(ctx, competitor.RaceID))
	result.Candidates = m.rank(input, runners)

	selected, decision := m.decide(result.Candidates)
	if competitor.MatchStatus != "" && competitor.MatchStatus != models.MatchStatusUnmatched {
		selected, decision = nil, metrics.MatchDecisionKept
	}
	if selected != nil {
		confidence := selected.Confidence
		registryID := selected.RegistryID
		err := m.competitors.UpdateMatch(ctx, competitor.ID, repository.MatchUpdate{
			Status:         models.MatchStatusMatched,
			RegistryID:     &registryID,
			Confidence:     &confidence,
			PersonalBestKm: selected.PersonalBestKm,
		})
		if err != nil {
			metrics.RecordMatchDecision(metrics.MatchDecisionError)
			return nil, models.NewStorageError(op, "failed to store match", err)
		}
		competitor.RegistryID = &registryID
		competitor.MatchStatus = models.MatchStatusMatched
		competitor.MatchConfidence = &confidence
		competitor.PersonalBestKm = selected.PersonalBestKm
		result.SelectedID = &registryID
	}

	metrics.RecordMatchDecision(decision)
	top := 0.0
	if len(result.Candidates) > 0 {
		top = result.Candidates[0].Confidence
		metrics.RecordMatchConfidence(top)
	}
	m.audit.LogMatchDecision(competitor.ID, competitor.Bib, decision, result.SelectedID, top, len(result.Candidates))
	return result, nil
}

// rank scores runners and sorts them by confidence, highest first
func (m *Matcher) rank(input ScoreInput, runners []registry.Runner) []models.MatchCandidate {
	candidates := make([]models.MatchCandidate, 0, len(runners))
	for _, r := range runners {
		gender, _ := models.ParseGender(r.Sex)
		c := models.MatchCandidate{
			RegistryID:     r.PersonID,
			FirstName:      r.Firstname,
			LastName:       r.Lastname,
			BirthYear:      r.YOB.Int(),
			Nation:         r.Nation,
			Gender:         gender,
			PersonalBest:   r.PersonalBest,
			PersonalBestKm: registry.ParsePersonalBestKm(r.PersonalBest),
		}
		c.Confidence = Score(input, c, m.opts.Weights, m.opts.BirthYearTolerance)
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if m.opts.MaxCandidates > 0 && len(candidates) > m.opts.MaxCandidates {
		candidates = candidates[:m.opts.MaxCandidates]
	}
	return candidates
}

// decide picks the auto-accepted candidate, if any
func (m *Matcher) decide(candidates []models.MatchCandidate) (*models.MatchCandidate, string) {
	if len(candidates) == 0 {
		return nil, metrics.MatchDecisionNoResults
	}
	top := candidates[0]
	if top.Confidence < m.opts.AutoAcceptThreshold {
		return nil, metrics.MatchDecisionAmbiguous
	}
	if len(candidates) > 1 {
		gap := math.Round((top.Confidence-candidates[1].Confidence)*1000) / 1000
		if gap <= m.opts.AmbiguityMargin {
			return nil, metrics.MatchDecisionAmbiguous
		}
	}
	return &top, metrics.MatchDecisionAccepted
}

// ManualMatch links a competitor to a registry runner chosen by an operator.
// The runner must exist in the registry.
func (m *Matcher) ManualMatch(ctx context.Context, competitorID uuid.UUID, registryID int64) (*models.Competitor, error) {
	const op = "manual match"

	competitor, err := m.loadCompetitor(ctx, op, competitorID)
	if err != nil {
		return nil, err
	}

	profile, err := m.registry.GetProfile(ctx, registryID)
	if err != nil {
		if registry.IsNotFound(err) {
			return nil, models.NewValidationError(op, "registry runner does not exist")
		}
		return nil, models.NewUpstreamError(op, "registry profile lookup failed", err)
	}

	// The profile header carries no personal best; look the runner up by name for it.
	var personalBest *float64
	runners, err := m.registry.Search(ctx, profile.Lastname, profile.Firstname, competitor.Gender)
	if err != nil {
		m.logger.WithError(err).WithField("registry_id", registryID).Debug("Personal best lookup failed")
	}
	for _, r := range runners {
		if r.PersonID == registryID {
			personalBest = registry.ParsePersonalBestKm(r.PersonalBest)
			break
		}
	}

	confidence := 1.0
	update := repository.MatchUpdate{
		Status:         models.MatchStatusMatched,
		RegistryID:     &registryID,
		Confidence:     &confidence,
		PersonalBestKm: personalBest,
	}
	if err := m.competitors.UpdateMatch(ctx, competitorID, update); err != nil {
		return nil, models.NewStorageError(op, "failed to store match", err)
	}

	competitor.MatchStatus = models.MatchStatusMatched
	competitor.RegistryID = &registryID
	competitor.MatchConfidence = &confidence
	competitor.PersonalBestKm = personalBest

	metrics.RecordMatchDecision(metrics.MatchDecisionManual)
	m.audit.LogMatchDecision(competitorID, competitor.Bib, metrics.MatchDecisionManual, &registryID, confidence, 1)
	return competitor, nil
}

// MarkNoMatch records that the competitor has no registry entry
func (m *Matcher) MarkNoMatch(ctx context.Context, competitorID uuid.UUID) (*models.Competitor, error) {
	return m.reset(ctx, "mark no match", competitorID, models.MatchStatusNoMatch, metrics.MatchDecisionNoMatch)
}

// Unmatch clears any registry link so the competitor can be matched again
func (m *Matcher) Unmatch(ctx context.Context, competitorID uuid.UUID) (*models.Competitor, error) {
	return m.reset(ctx, "unmatch", competitorID, models.MatchStatusUnmatched, metrics.MatchDecisionUnmatch)
}

func (m *Matcher) reset(ctx context.Context, op string, competitorID uuid.UUID, status models.MatchStatus, decision string) (*models.Competitor, error) {
	competitor, err := m.loadCompetitor(ctx, op, competitorID)
	if err != nil {
		return nil, err
	}
	if err := m.competitors.UpdateMatch(ctx, competitorID, repository.MatchUpdate{Status: status}); err != nil {
		return nil, models.NewStorageError(op, "failed to update competitor", err)
	}

	competitor.MatchStatus = status
	competitor.RegistryID = nil
	competitor.MatchConfidence = nil
	competitor.PersonalBestKm = nil

	metrics.RecordMatchDecision(decision)
	m.audit.LogMatchDecision(competitorID, competitor.Bib, decision, nil, 0, 0)
	return competitor, nil
}

// BatchResult summarises a MatchRace run
type BatchResult struct {
	Attempted   int                   `json:"attempted"`
	AutoMatched int                   `json:"auto_matched"`
	NeedsReview int                   `json:"needs_review"`
	NoResults   int                   `json:"no_results"`
	Failed      int                   `json:"failed"`
	Results     []*models.MatchResult `json:"results"`
}

// MatchRace matches every unmatched competitor of a race one after another.
// Matched and no-match competitors are skipped. A registry failure is counted
// and the batch continues, unless the circuit breaker has opened.
func (m *Matcher) MatchRace(ctx context.Context, raceID uuid.UUID) (_ *BatchResult, err error) {
	const op = "match race"

	ctx, finish := tracing.StartSegment(ctx, "batch-match")
	defer func() { finish(err) }()
	tracing.AddAnnotation(ctx, "race_id", raceID.String())

	pending, err := m.competitors.ListByStatus(ctx, raceID, models.MatchStatusUnmatched)
	if err != nil {
		return nil, models.NewStorageError(op, "failed to list competitors", err)
	}

	batch := &BatchResult{Results: make([]*models.MatchResult, 0, len(pending))}
	for _, competitor := range pending {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		batch.Attempted++
		result, err := m.Match(ctx, competitor)
		if err != nil {
			batch.Failed++
			if errors.Is(err, registry.ErrCircuitOpen) {
				m.logger.WithField("race_id", raceID).Warn("Registry unavailable, stopping batch match")
				return batch, err
			}
			if models.KindOf(err) != models.KindUpstream {
				return batch, err
			}
			continue
		}

		batch.Results = append(batch.Results, result)
		switch {
		case result.SelectedID != nil:
			batch.AutoMatched++
		case len(result.Candidates) == 0:
			batch.NoResults++
		default:
			batch.NeedsReview++
		}
	}

	m.logger.WithFields(logrus.Fields{
		"race_id":      raceID,
		"attempted":    batch.Attempted,
		"auto_matched": batch.AutoMatched,
		"needs_review": batch.NeedsReview,
		"no_results":   batch.NoResults,
		"failed":       batch.Failed,
	}).Info("Batch match completed")
	return batch, nil
}

// Stats summarises match states of a race
func (m *Matcher) Stats(ctx context.Context, raceID uuid.UUID) (*models.MatchingStats, error) {
	competitors, err := m.competitors.ListByRace(ctx, raceID)
	if err != nil {
		return nil, models.NewStorageError("matching stats", "failed to list competitors", err)
	}

	stats := &models.MatchingStats{Total: len(competitors)}
	var confidenceSum float64
	for _, c := range competitors {
		switch c.MatchStatus {
		case models.MatchStatusMatched:
			stats.Matched++
			if c.MatchConfidence != nil {
				confidenceSum += *c.MatchConfidence
			}
		case models.MatchStatusNoMatch:
			stats.NoMatch++
		default:
			stats.Unmatched++
		}
	}
	if stats.Matched > 0 {
		stats.AverageConfidence = math.Round(confidenceSum/float64(stats.Matched)*1000) / 1000
	}
	return stats, nil
}

func (m *Matcher) loadCompetitor(ctx context.Context, op string, id uuid.UUID) (*models.Competitor, error) {
	competitor, err := m.competitors.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewNotFoundError(op, "competitor not found", err)
		}
		return nil, models.NewStorageError(op, "failed to load competitor", err)
	}
	return competitor, nil
}

func (m *Matcher) raceYear(ctx context.Context, raceID uuid.UUID) int {
	race, err := m.races.GetByID(ctx, raceID)
	if err != nil {
		m.logger.WithError(err).WithField("race_id", raceID).Debug("Race lookup failed, using current year")
		return m.now().Year()
	}
	if race.StartTime != nil {
		return race.StartTime.Year()
	}
	return m.now().Year()
}
