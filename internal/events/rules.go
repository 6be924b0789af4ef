package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/lapwatch/internal/leaderboard"
	"github.com/yourusername/lapwatch/internal/models"
)

// Scopes used by lead changes and position moves
const (
	ScopeOverall = "overall"
)

// Rules tunes event detection
type Rules struct {
	MilestoneKm float64
	// A competitor gaining at least MovePositions places emits a move event,
	// as does one gaining TopGain places into the top TopN.
	MovePositions int
	TopN          int
	TopGain       int
}

// DefaultRules returns the production detection thresholds
func DefaultRules() Rules {
	return Rules{
		MilestoneKm:   50,
		MovePositions: 8,
		TopN:          5,
		TopGain:       3,
	}
}

// Input is everything one detection pass looks at
type Input struct {
	Previous []models.LeaderboardEntry
	Current  []models.LeaderboardEntry
	Records  []*models.Record
	// PersonalBests maps bib to registry personal best distance.
	PersonalBests map[int]float64
	DetectedAt    time.Time
}

// Detect derives candidate events from the difference between two
// leaderboards. It is pure: running it twice on the same input yields
// events with the same dedup keys.
func Detect(in Input, rules Rules) []*models.RaceEvent {
	var out []*models.RaceEvent
	out = append(out, LeadChanges(in.Previous, in.Current)...)
	out = append(out, Milestones(in.Previous, in.Current, rules.MilestoneKm)...)
	out = append(out, RecordsBroken(in.Current, in.Records)...)
	out = append(out, PersonalBests(in.Previous, in.Current, in.PersonalBests)...)
	out = append(out, SignificantMoves(in.Previous, in.Current, rules)...)

	for _, e := range out {
		e.DetectedAt = in.DetectedAt
	}
	return out
}

// LeadChanges emits one event per scope (overall, men, women) whose leader
// differs from the previous leaderboard. Without a previous leader there is
// nothing to change.
func LeadChanges(prev, curr []models.LeaderboardEntry) []*models.RaceEvent {
	scopes := []struct {
		name   string
		gender models.Gender
	}{
		{ScopeOverall, ""},
		{string(models.GenderMale), models.GenderMale},
		{string(models.GenderFemale), models.GenderFemale},
	}

	var out []*models.RaceEvent
	for _, scope := range scopes {
		oldLeader := leaderboard.Leader(prev, scope.gender)
		newLeader := leaderboard.Leader(curr, scope.gender)
		if oldLeader == nil || newLeader == nil || oldLeader.Bib == newLeader.Bib {
			continue
		}

		gap := newLeader.DistanceKm
		if old, ok := leaderboard.ByBib(curr)[oldLeader.Bib]; ok {
			gap -= old.DistanceKm
		}

		label := "overall"
		if scope.gender != "" {
			label = genderLabel(scope.gender)
		}
		value := float64(newLeader.Lap)
		out = append(out, &models.RaceEvent{
			Type:      models.EventLeadChange,
			Priority:  models.PriorityHigh,
			Scope:     scope.name,
			Bibs:      []int{newLeader.Bib, oldLeader.Bib},
			Countries: countries(newLeader, oldLeader),
			Value:     value,
			DedupKey:  DedupKey(models.EventLeadChange, scope.name, newLeader.Bib, value),
			Description: fmt.Sprintf("%s takes the %s lead from %s at %.1f km",
				display(newLeader), label, display(oldLeader), newLeader.DistanceKm),
			Data: map[string]any{
				"new_leader": newLeader.Bib,
				"old_leader": oldLeader.Bib,
				"gap_km":     round3(gap),
			},
		})
	}
	return out
}

// Milestones emits an event for every multiple of stepKm a competitor passed
// since the previous leaderboard.
func Milestones(prev, curr []models.LeaderboardEntry, stepKm float64) []*models.RaceEvent {
	if stepKm <= 0 {
		return nil
	}
	before := leaderboard.ByBib(prev)

	var out []*models.RaceEvent
	for i := range curr {
		e := &curr[i]
		if !e.HasLaps() {
			continue
		}
		from := 0.0
		if p, ok := before[e.Bib]; ok {
			from = p.DistanceKm
		}

		first := math.Floor(from/stepKm) + 1
		for n := first; n*stepKm <= e.DistanceKm; n++ {
			km := n * stepKm
			priority := models.PriorityLow
			if e.Rank > 0 && e.Rank <= 5 {
				priority = models.PriorityHigh
			}
			out = append(out, &models.RaceEvent{
				Type:        models.EventMilestone,
				Priority:    priority,
				Scope:       ScopeOverall,
				Bibs:        []int{e.Bib},
				Countries:   countries(e),
				Value:       km,
				DedupKey:    DedupKey(models.EventMilestone, ScopeOverall, e.Bib, km),
				Description: fmt.Sprintf("%s passes %s km", display(e), formatKm(km)),
				Data: map[string]any{
					"race_time_sec": e.RaceTimeSec,
					"rank":          e.Rank,
				},
			})
		}
	}
	return out
}

// RecordsBroken emits an event for every applicable reference record a
// competitor has beaten. The value is the record's distance so each record
// is reported once per competitor.
func RecordsBroken(curr []models.LeaderboardEntry, records []*models.Record) []*models.RaceEvent {
	var out []*models.RaceEvent
	for i := range curr {
		e := &curr[i]
		for _, rec := range records {
			if !rec.Applies(e) || !rec.BrokenBy(e) {
				continue
			}
			scope := recordScope(rec)
			out = append(out, &models.RaceEvent{
				Type:      models.EventRecord,
				Priority:  models.PriorityHigh,
				Scope:     scope,
				Bibs:      []int{e.Bib},
				Countries: countries(e),
				Value:     rec.DistanceKm,
				DedupKey:  DedupKey(models.EventRecord, scope, e.Bib, rec.DistanceKm),
				Description: fmt.Sprintf("%s breaks the %s record of %s km (%s) with %.3f km",
					display(e), strings.ReplaceAll(scope, ":", " "), formatKm(rec.DistanceKm), rec.Holder, e.DistanceKm),
				Data: map[string]any{
					"record_km":      rec.DistanceKm,
					"record_holder":  rec.Holder,
					"distance_km":    e.DistanceKm,
					"race_time_sec":  e.RaceTimeSec,
					"record_elapsed": rec.ElapsedSec,
				},
			})
		}
	}
	return out
}

// PersonalBests emits an event when a competitor passes their registry
// personal best between two leaderboards.
func PersonalBests(prev, curr []models.LeaderboardEntry, bests map[int]float64) []*models.RaceEvent {
	if len(bests) == 0 {
		return nil
	}
	before := leaderboard.ByBib(prev)

	var out []*models.RaceEvent
	for i := range curr {
		e := &curr[i]
		pb, ok := bests[e.Bib]
		if !ok || pb <= 0 || e.DistanceKm <= pb {
			continue
		}
		if p, ok := before[e.Bib]; ok && p.DistanceKm > pb {
			continue
		}
		out = append(out, &models.RaceEvent{
			Type:        models.EventPersonalBest,
			Priority:    models.PriorityMedium,
			Scope:       ScopeOverall,
			Bibs:        []int{e.Bib},
			Countries:   countries(e),
			Value:       pb,
			DedupKey:    DedupKey(models.EventPersonalBest, ScopeOverall, e.Bib, pb),
			Description: fmt.Sprintf("%s passes their personal best of %s km", display(e), formatKm(pb)),
			Data: map[string]any{
				"personal_best_km": pb,
				"distance_km":      e.DistanceKm,
			},
		})
	}
	return out
}

// SignificantMoves emits an event for competitors who gained many places, or
// a few places into the top of the field.
func SignificantMoves(prev, curr []models.LeaderboardEntry, rules Rules) []*models.RaceEvent {
	before := leaderboard.ByBib(prev)

	var out []*models.RaceEvent
	for i := range curr {
		e := &curr[i]
		p, ok := before[e.Bib]
		if !ok || !p.HasLaps() || !e.HasLaps() {
			continue
		}
		gained := p.Rank - e.Rank
		if gained <= 0 {
			continue
		}
		big := rules.MovePositions > 0 && gained >= rules.MovePositions
		top := rules.TopN > 0 && rules.TopGain > 0 && e.Rank <= rules.TopN && gained >= rules.TopGain
		if !big && !top {
			continue
		}

		value := float64(e.Rank)
		out = append(out, &models.RaceEvent{
			Type:      models.EventSignificantMove,
			Priority:  models.PriorityMedium,
			Scope:     ScopeOverall,
			Bibs:      []int{e.Bib},
			Countries: countries(e),
			Value:     value,
			// The lap keeps a later identical move distinguishable.
			DedupKey:    DedupKey(models.EventSignificantMove, ScopeOverall, e.Bib, value, float64(e.Lap)),
			Description: fmt.Sprintf("%s moves up %d places to %s", display(e), gained, ordinal(e.Rank)),
			Data: map[string]any{
				"old_rank": p.Rank,
				"new_rank": e.Rank,
				"gained":   gained,
			},
		})
	}
	return out
}

// DedupKey derives the content identity of an event
func DedupKey(t models.EventType, scope string, bib int, values ...float64) string {
	parts := []string{string(t), scope, strconv.Itoa(bib)}
	for _, v := range values {
		parts = append(parts, strconv.FormatFloat(v, 'f', 3, 64))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func recordScope(rec *models.Record) string {
	switch rec.Scope {
	case models.RecordScopeGender:
		return fmt.Sprintf("%s:%s", rec.Scope, rec.Gender)
	case models.RecordScopeAgeGroup:
		return fmt.Sprintf("%s:%s%s", rec.Scope, rec.Gender, rec.AgeGroup)
	case models.RecordScopeNational:
		return fmt.Sprintf("%s:%s%s", rec.Scope, rec.Nation, rec.Gender)
	}
	return string(rec.Scope)
}

func countries(entries ...*models.LeaderboardEntry) []string {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Nationality == "" || seen[e.Nationality] {
			continue
		}
		seen[e.Nationality] = true
		out = append(out, e.Nationality)
	}
	sort.Strings(out)
	return out
}

func display(e *models.LeaderboardEntry) string {
	if e.Name == "" {
		return fmt.Sprintf("Bib %d", e.Bib)
	}
	return fmt.Sprintf("%s (%d)", e.Name, e.Bib)
}

func genderLabel(g models.Gender) string {
	if g == models.GenderFemale {
		return "women's"
	}
	return "men's"
}

func formatKm(km float64) string {
	return strconv.FormatFloat(km, 'f', -1, 64)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}
