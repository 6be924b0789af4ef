package config

import "github.com/yourusername/lapwatch/internal/leaderboard"

// AgeBands converts configured age groups into leaderboard brackets
func (c *RaceConfig) AgeBands() leaderboard.AgeBands {
	bands := make(leaderboard.AgeBands, 0, len(c.AgeGroups))
	for _, g := range c.AgeGroups {
		bands = append(bands, leaderboard.AgeBand{Name: g.Name, MinAge: g.MinAge, MaxAge: g.MaxAge})
	}
	return bands
}
