package leaderboard

import (
	"math"
	"sort"

	"github.com/yourusername/lapwatch/internal/models"
)

// DefaultTeamSize is the number of best distances counted per nation
const DefaultTeamSize = 3

// Teams rolls entries of one gender up by nationality. A team's total is the
// sum of its best teamSize distances.
func Teams(entries []models.LeaderboardEntry, gender models.Gender, teamSize int) []models.TeamStanding {
	if teamSize <= 0 {
		teamSize = DefaultTeamSize
	}

	byNation := make(map[string][]models.LeaderboardEntry)
	for _, e := range entries {
		if e.Gender != gender || e.Nationality == "" {
			continue
		}
		byNation[e.Nationality] = append(byNation[e.Nationality], e)
	}

	teams := make([]models.TeamStanding, 0, len(byNation))
	for nation, members := range byNation {
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].DistanceKm > members[j].DistanceKm
		})
		n := teamSize
		if len(members) < n {
			n = len(members)
		}

		team := models.TeamStanding{
			Nationality:  nation,
			Gender:       gender,
			MemberCount:  len(members),
			CountingBibs: make([]int, 0, n),
		}
		for _, m := range members[:n] {
			team.TotalKm += m.DistanceKm
			team.CountingBibs = append(team.CountingBibs, m.Bib)
		}
		team.TotalKm = math.Round(team.TotalKm*1000) / 1000
		teams = append(teams, team)
	}

	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].TotalKm != teams[j].TotalKm {
			return teams[i].TotalKm > teams[j].TotalKm
		}
		return teams[i].Nationality < teams[j].Nationality
	})
	for i := range teams {
		teams[i].Rank = i + 1
	}
	return teams
}
