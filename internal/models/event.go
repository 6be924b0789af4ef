package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of a detected race event
type EventType string

const (
	EventLeadChange      EventType = "lead_change"
	EventMilestone       EventType = "milestone"
	EventRecord          EventType = "record"
	EventPersonalBest    EventType = "personal_best"
	EventSignificantMove EventType = "significant_move"
)

// EventPriority ranks events for notification dispatch
type EventPriority string

const (
	PriorityHigh   EventPriority = "high"
	PriorityMedium EventPriority = "medium"
	PriorityLow    EventPriority = "low"
)

// RaceEvent is a detected occurrence. Events are append-only and unique per
// (race, dedup key).
type RaceEvent struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Sequence    int64          `db:"seq" json:"sequence"`
	RaceID      uuid.UUID      `db:"race_id" json:"race_id"`
	Type        EventType      `db:"event_type" json:"type"`
	Priority    EventPriority  `db:"priority" json:"priority"`
	Scope       string         `db:"scope" json:"scope,omitempty"`
	Bibs        []int          `db:"bibs" json:"bibs"`
	Countries   []string       `db:"countries" json:"countries,omitempty"`
	Value       float64        `db:"value" json:"value"`
	DedupKey    string         `db:"dedup_key" json:"dedup_key"`
	Description string         `db:"description" json:"description"`
	Data        map[string]any `db:"data" json:"data,omitempty"`
	DetectedAt  time.Time      `db:"detected_at" json:"detected_at"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// PrimaryBib returns the first affected bib or 0
func (e *RaceEvent) PrimaryBib() int {
	if len(e.Bibs) == 0 {
		return 0
	}
	return e.Bibs[0]
}
