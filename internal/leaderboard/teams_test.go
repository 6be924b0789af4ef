package leaderboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lapwatch/internal/models"
)

func TestTeamsSumsBestDistances(t *testing.T) {
	entries := []models.LeaderboardEntry{
		{Bib: 1, Gender: models.GenderMale, Nationality: "GER", DistanceKm: 100, Lap: 1},
		{Bib: 2, Gender: models.GenderMale, Nationality: "GER", DistanceKm: 90, Lap: 1},
		{Bib: 3, Gender: models.GenderMale, Nationality: "GER", DistanceKm: 80, Lap: 1},
		{Bib: 4, Gender: models.GenderMale, Nationality: "GER", DistanceKm: 70, Lap: 1},
		{Bib: 5, Gender: models.GenderMale, Nationality: "FRA", DistanceKm: 150, Lap: 1},
		{Bib: 6, Gender: models.GenderFemale, Nationality: "FRA", DistanceKm: 200, Lap: 1},
		{Bib: 7, Gender: models.GenderMale, Nationality: "", DistanceKm: 300, Lap: 1},
	}

	teams := Teams(entries, models.GenderMale, 3)
	require.Len(t, teams, 2)

	assert.Equal(t, "GER", teams[0].Nationality)
	assert.Equal(t, 270.0, teams[0].TotalKm)
	assert.Equal(t, []int{1, 2, 3}, teams[0].CountingBibs)
	assert.Equal(t, 4, teams[0].MemberCount)
	assert.Equal(t, 1, teams[0].Rank)

	assert.Equal(t, "FRA", teams[1].Nationality)
	assert.Equal(t, 150.0, teams[1].TotalKm)
	assert.Equal(t, 2, teams[1].Rank)
}
