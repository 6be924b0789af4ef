package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordScope is the category a reference record applies to
type RecordScope string

const (
	RecordScopeCourse   RecordScope = "course"
	RecordScopeGender   RecordScope = "gender"
	RecordScopeAgeGroup RecordScope = "age_group"
	RecordScopeNational RecordScope = "national"
)

// Record is an existing best performance from the reference table.
// DistanceKm is the best known distance covered by ElapsedSec.
type Record struct {
	ID         uuid.UUID   `db:"id" json:"id" yaml:"-"`
	RaceID     uuid.UUID   `db:"race_id" json:"race_id" yaml:"-"`
	Scope      RecordScope `db:"scope" json:"scope" yaml:"scope" validate:"required,oneof=course gender age_group national"`
	Gender     Gender      `db:"gender" json:"gender,omitempty" yaml:"gender"`
	AgeGroup   string      `db:"age_group" json:"age_group,omitempty" yaml:"age_group"`
	Nation     string      `db:"nation" json:"nation,omitempty" yaml:"nation"`
	DistanceKm float64     `db:"distance_km" json:"distance_km" yaml:"-" validate:"gt=0"`
	ElapsedSec float64     `db:"elapsed_sec" json:"elapsed_sec" yaml:"-" validate:"gt=0"`
	Holder     string      `db:"holder" json:"holder" yaml:"holder"`
	Year       int         `db:"year" json:"year,omitempty" yaml:"year"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at" yaml:"-"`
}

// Applies reports whether the record category covers the given entry.
func (r *Record) Applies(entry *LeaderboardEntry) bool {
	if r.Gender != "" && r.Gender != entry.Gender {
		return false
	}
	switch r.Scope {
	case RecordScopeCourse:
		return true
	case RecordScopeGender:
		return r.Gender != ""
	case RecordScopeAgeGroup:
		return r.AgeGroup != "" && r.AgeGroup == entry.AgeGroup
	case RecordScopeNational:
		return r.Nation != "" && r.Nation == entry.Nationality
	}
	return false
}

// BrokenBy reports whether the entry has covered more distance than the record
// within the record's elapsed time.
func (r *Record) BrokenBy(entry *LeaderboardEntry) bool {
	if !entry.HasLaps() || entry.RaceTimeSec > r.ElapsedSec {
		return false
	}
	return entry.DistanceKm > r.DistanceKm
}
