package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gender of a competitor. Women are stored as "W".
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "W"
)

// ParseGender accepts the common spellings used by timing providers and the registry.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "men", "man":
		return GenderMale, true
	case "w", "f", "female", "women", "woman":
		return GenderFemale, true
	}
	return "", false
}

// MatchStatus is the registry match state of a competitor
type MatchStatus string

const (
	MatchStatusUnmatched MatchStatus = "unmatched"
	MatchStatusMatched   MatchStatus = "matched"
	// MatchStatusNoMatch is only ever set by an explicit manual decision.
	MatchStatusNoMatch MatchStatus = "no-match"
)

// Competitor is a registered participant of a race
type Competitor struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	RaceID          uuid.UUID   `db:"race_id" json:"race_id" validate:"required"`
	Bib             int         `db:"bib" json:"bib" validate:"required,gt=0"`
	FirstName       string      `db:"first_name" json:"first_name" validate:"required"`
	LastName        string      `db:"last_name" json:"last_name" validate:"required"`
	Gender          Gender      `db:"gender" json:"gender" validate:"oneof=M W"`
	Nationality     string      `db:"nationality" json:"nationality"`
	Age             *int        `db:"age" json:"age,omitempty"`
	RegistryID      *int64      `db:"registry_id" json:"registry_id,omitempty"`
	MatchStatus     MatchStatus `db:"match_status" json:"match_status"`
	MatchConfidence *float64    `db:"match_confidence" json:"match_confidence,omitempty"`
	PersonalBestKm  *float64    `db:"personal_best_km" json:"personal_best_km,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// DisplayName returns "First Last"
func (c *Competitor) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// GetAge returns the age or 0 if unknown
func (c *Competitor) GetAge() int {
	if c.Age == nil {
		return 0
	}
	return *c.Age
}

// MatchCandidate is one registry identity proposed for a competitor
type MatchCandidate struct {
	RegistryID     int64    `json:"registry_id"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	BirthYear      int      `json:"birth_year,omitempty"`
	Nation         string   `json:"nation"`
	Gender         Gender   `json:"gender"`
	PersonalBest   string   `json:"personal_best,omitempty"`
	PersonalBestKm *float64 `json:"personal_best_km,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// MatchResult is the outcome of one matching attempt
type MatchResult struct {
	CompetitorID uuid.UUID        `json:"competitor_id"`
	Bib          int              `json:"bib"`
	Candidates   []MatchCandidate `json:"candidates"`
	SelectedID   *int64           `json:"selected_id,omitempty"`
}

// MatchingStats summarises match states for a race
type MatchingStats struct {
	Total             int     `json:"total"`
	Matched           int     `json:"matched"`
	Unmatched         int     `json:"unmatched"`
	NoMatch           int     `json:"no_match"`
	AverageConfidence float64 `json:"average_confidence"`
}
