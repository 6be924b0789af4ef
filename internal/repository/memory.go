package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/lapwatch/internal/models"
)

type lapKey struct {
	race uuid.UUID
	bib  int
	lap  int
}

// memoryStore backs the in-memory repositories used by the memory storage
// driver and by tests. Writes are not rolled back on error.
type memoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	races       map[uuid.UUID]*models.Race
	competitors map[uuid.UUID]*models.Competitor
	laps        map[lapKey]*models.Lap
	snapshots   map[uuid.UUID][]models.LeaderboardEntry
	events      map[uuid.UUID][]*models.RaceEvent
	records     map[uuid.UUID][]*models.Record
	seq         int64

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMemoryRepositories returns repositories that keep all state in process memory
func NewMemoryRepositories() *Repositories {
	s := &memoryStore{
		now:         time.Now,
		races:       make(map[uuid.UUID]*models.Race),
		competitors: make(map[uuid.UUID]*models.Competitor),
		laps:        make(map[lapKey]*models.Lap),
		snapshots:   make(map[uuid.UUID][]models.LeaderboardEntry),
		events:      make(map[uuid.UUID][]*models.RaceEvent),
		records:     make(map[uuid.UUID][]*models.Record),
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}

	return &Repositories{
		Race:       &memoryRaceRepository{s},
		Competitor: &memoryCompetitorRepository{s},
		Lap:        &memoryLapRepository{s},
		Snapshot:   &memorySnapshotRepository{s},
		Event:      &memoryEventRepository{s},
		Record:     &memoryRecordRepository{s},
		Tx:         s,
		Locker:     s,
	}
}

func (s *memoryStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type raceLockKey struct{}

func (s *memoryStore) WithRaceLock(ctx context.Context, raceID uuid.UUID, fn func(context.Context) error) error {
	// Re-entrant for the same race so nested calls do not deadlock.
	if held, ok := ctx.Value(raceLockKey{}).(uuid.UUID); ok && held == raceID {
		return fn(ctx)
	}

	s.locksMu.Lock()
	l, ok := s.locks[raceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[raceID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(context.WithValue(ctx, raceLockKey{}, raceID))
}

type memoryRaceRepository struct{ s *memoryStore }

func (r *memoryRaceRepository) Create(_ context.Context, race *models.Race) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if race.ID == uuid.Nil {
		race.ID = uuid.New()
	}
	if _, exists := r.s.races[race.ID]; exists {
		return fmt.Errorf("race %s: %w", race.ID, models.ErrDuplicateKey)
	}
	if race.State == "" {
		race.State = models.RaceStateNotStarted
	}
	if race.IsActive {
		for _, other := range r.s.races {
			if other.IsActive {
				return fmt.Errorf("active race already exists: %w", models.ErrDuplicateKey)
			}
		}
	}
	now := r.s.now()
	race.CreatedAt, race.UpdatedAt = now, now

	stored := *race
	r.s.races[race.ID] = &stored
	return nil
}

func (r *memoryRaceRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	race, ok := r.s.races[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *race
	return &out, nil
}

func (r *memoryRaceRepository) GetActive(_ context.Context) (*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, race := range r.s.races {
		if race.IsActive {
			out := *race
			return &out, nil
		}
	}
	return nil, models.ErrNoActiveRace
}

func (r *memoryRaceRepository) List(_ context.Context) ([]*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	races := make([]*models.Race, 0, len(r.s.races))
	for _, race := range r.s.races {
		out := *race
		races = append(races, &out)
	}
	sort.Slice(races, func(i, j int) bool { return races[i].CreatedAt.After(races[j].CreatedAt) })
	return races, nil
}

func (r *memoryRaceRepository) SetActive(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	target, ok := r.s.races[id]
	if !ok {
		return models.ErrNotFound
	}
	now := r.s.now()
	for _, race := range r.s.races {
		if race.IsActive && race.ID != id {
			race.IsActive = false
			race.UpdatedAt = now
		}
	}
	target.IsActive = true
	target.UpdatedAt = now
	return nil
}

func (r *memoryRaceRepository) update(id uuid.UUID, fn func(*models.Race)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	race, ok := r.s.races[id]
	if !ok {
		return models.ErrNotFound
	}
	fn(race)
	race.UpdatedAt = r.s.now()
	return nil
}

func (r *memoryRaceRepository) SetState(_ context.Context, id uuid.UUID, state models.RaceState) error {
	return r.update(id, func(race *models.Race) { race.State = state })
}

func (r *memoryRaceRepository) MarkDataReceived(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(race *models.Race) {
		race.LastDataFetch = &at
		if race.State == models.RaceStateNotStarted {
			race.State = models.RaceStateLive
		}
	})
}

func (r *memoryRaceRepository) Reset(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(race *models.Race) {
		race.State = models.RaceStateNotStarted
		race.LastDataFetch = nil
	})
}

type memoryCompetitorRepository struct{ s *memoryStore }

func (r *memoryCompetitorRepository) Create(_ context.Context, c *models.Competitor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	for _, other := range r.s.competitors {
		if other.RaceID == c.RaceID && other.Bib == c.Bib {
			return fmt.Errorf("bib %d: %w", c.Bib, models.ErrDuplicateKey)
		}
	}
	if c.MatchStatus == "" {
		c.MatchStatus = models.MatchStatusUnmatched
	}
	now := r.s.now()
	c.CreatedAt, c.UpdatedAt = now, now

	stored := *c
	r.s.competitors[c.ID] = &stored
	return nil
}

func (r *memoryCompetitorRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Competitor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.competitors[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *memoryCompetitorRepository) GetByBib(_ context.Context, raceID uuid.UUID, bib int) (*models.Competitor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.competitors {
		if c.RaceID == raceID && c.Bib == bib {
			out := *c
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memoryCompetitorRepository) ListByRace(_ context.Context, raceID uuid.UUID) ([]*models.Competitor, error) {
	return r.filter(func(c *models.Competitor) bool { return c.RaceID == raceID }), nil
}

func (r *memoryCompetitorRepository) ListByStatus(_ context.Context, raceID uuid.UUID, status models.MatchStatus) ([]*models.Competitor, error) {
	return r.filter(func(c *models.Competitor) bool {
		return c.RaceID == raceID && c.MatchStatus == status
	}), nil
}

func (r *memoryCompetitorRepository) filter(keep func(*models.Competitor) bool) []*models.Competitor {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Competitor
	for _, c := range r.s.competitors {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bib < out[j].Bib })
	return out
}

func (r *memoryCompetitorRepository) UpdateMatch(_ context.Context, id uuid.UUID, u MatchUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.competitors[id]
	if !ok {
		return models.ErrNotFound
	}
	c.MatchStatus = u.Status
	c.RegistryID = u.RegistryID
	c.MatchConfidence = u.Confidence
	c.PersonalBestKm = u.PersonalBestKm
	c.UpdatedAt = r.s.now()
	return nil
}

type memoryLapRepository struct{ s *memoryStore }

func (r *memoryLapRepository) Insert(_ context.Context, lap *models.Lap) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := lapKey{race: lap.RaceID, bib: lap.Bib, lap: lap.Lap}
	if _, exists := r.s.laps[key]; exists {
		return fmt.Errorf("lap %d for bib %d: %w", lap.Lap, lap.Bib, models.ErrDuplicateKey)
	}
	lap.CreatedAt = r.s.now()

	stored := *lap
	r.s.laps[key] = &stored
	return nil
}

func (r *memoryLapRepository) ListByBib(_ context.Context, raceID uuid.UUID, bib int) ([]*models.Lap, error) {
	return r.filter(func(l *models.Lap) bool { return l.RaceID == raceID && l.Bib == bib }), nil
}

func (r *memoryLapRepository) ListByRace(_ context.Context, raceID uuid.UUID) ([]*models.Lap, error) {
	return r.filter(func(l *models.Lap) bool { return l.RaceID == raceID }), nil
}

func (r *memoryLapRepository) ListLatest(_ context.Context, raceID uuid.UUID) ([]*models.Lap, error) {
	all := r.filter(func(l *models.Lap) bool { return l.RaceID == raceID })

	var latest []*models.Lap
	for i, l := range all {
		if i+1 == len(all) || all[i+1].Bib != l.Bib {
			latest = append(latest, l)
		}
	}
	return latest, nil
}

func (r *memoryLapRepository) DeleteByRace(_ context.Context, raceID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for key := range r.s.laps {
		if key.race == raceID {
			delete(r.s.laps, key)
			n++
		}
	}
	return n, nil
}

// filter returns copies ordered by bib then lap
func (r *memoryLapRepository) filter(keep func(*models.Lap) bool) []*models.Lap {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Lap
	for _, l := range r.s.laps {
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bib != out[j].Bib {
			return out[i].Bib < out[j].Bib
		}
		return out[i].Lap < out[j].Lap
	})
	return out
}

type memorySnapshotRepository struct{ s *memoryStore }

func (r *memorySnapshotRepository) Get(_ context.Context, raceID uuid.UUID) ([]models.LeaderboardEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return append([]models.LeaderboardEntry(nil), r.s.snapshots[raceID]...), nil
}

func (r *memorySnapshotRepository) Replace(_ context.Context, raceID uuid.UUID, entries []models.LeaderboardEntry, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := append([]models.LeaderboardEntry(nil), entries...)
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Rank < stored[j].Rank })
	r.s.snapshots[raceID] = stored
	return nil
}

func (r *memorySnapshotRepository) DeleteByRace(_ context.Context, raceID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.snapshots, raceID)
	return nil
}

type memoryEventRepository struct{ s *memoryStore }

func (r *memoryEventRepository) InsertIfAbsent(_ context.Context, e *models.RaceEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.events[e.RaceID] {
		if existing.DedupKey == e.DedupKey {
			return false, nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.s.seq++
	e.Sequence = r.s.seq
	e.CreatedAt = r.s.now()

	stored := *e
	r.s.events[e.RaceID] = append(r.s.events[e.RaceID], &stored)
	return true, nil
}

func (r *memoryEventRepository) ListSince(_ context.Context, raceID uuid.UUID, afterSeq int64, limit int) ([]*models.RaceEvent, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.RaceEvent
	for _, e := range r.s.events[raceID] {
		if e.Sequence <= afterSeq {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memoryRecordRepository struct{ s *memoryStore }

func (r *memoryRecordRepository) ListByRace(_ context.Context, raceID uuid.UUID) ([]*models.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*models.Record, 0, len(r.s.records[raceID]))
	for _, rec := range r.s.records[raceID] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryRecordRepository) ReplaceForRace(_ context.Context, raceID uuid.UUID, records []*models.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := make([]*models.Record, 0, len(records))
	now := r.s.now()
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.RaceID = raceID
		rec.CreatedAt = now
		cp := *rec
		stored = append(stored, &cp)
	}
	r.s.records[raceID] = stored
	return nil
}
