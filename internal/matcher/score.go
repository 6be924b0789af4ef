package matcher

import (
	"math"

	"github.com/yourusername/lapwatch/internal/models"
)

// ScoreInput is the competitor side of a comparison
type ScoreInput struct {
	FirstName   string
	LastName    string
	Gender      models.Gender
	Nationality string
	Age         *int
	// RaceYear anchors the age; the expected birth year is RaceYear - Age.
	RaceYear int
}

// InputFor builds a ScoreInput from a competitor
func InputFor(c *models.Competitor, raceYear int) ScoreInput {
	return ScoreInput{
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Gender:      c.Gender,
		Nationality: c.Nationality,
		Age:         c.Age,
		RaceYear:    raceYear,
	}
}

// Score returns the confidence in [0,1] that candidate is the competitor.
//
// Surname and given name earn weight * similarity once the similarity
// reaches the name floor. Nationality adds its weight on an exact code
// match. A plausible birth year adds the birth-year weight, an implausible
// one subtracts it, and an unknown one is neutral. A gender mismatch, or a
// candidate of unknown gender, zeroes the score.
func Score(in ScoreInput, candidate models.MatchCandidate, w Weights, birthYearTolerance int) float64 {
	if in.Gender == "" || in.Gender != candidate.Gender {
		return 0
	}

	score := 0.0
	if s := Similarity(Normalize(in.LastName), Normalize(candidate.LastName)); s >= w.NameFloor {
		score += w.Surname * s
	}
	if s := nameSimilarity(Normalize(in.FirstName), Normalize(candidate.FirstName)); s >= w.NameFloor {
		score += w.GivenName * s
	}

	if in.Nationality != "" && NormalizeNation(in.Nationality) == NormalizeNation(candidate.Nation) {
		score += w.Nationality
	}

	if in.Age != nil && *in.Age > 0 && candidate.BirthYear > 0 && in.RaceYear > 0 {
		expected := in.RaceYear - *in.Age
		diff := expected - candidate.BirthYear
		if diff < 0 {
			diff = -diff
		}
		if diff <= birthYearTolerance {
			score += w.BirthYear
		} else {
			score -= w.BirthYear
		}
	}

	score = math.Max(0, math.Min(1, score))
	return math.Round(score*1000) / 1000
}
