package cache

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Key namespaces. Every key starts with exactly one of these followed by ':'.
const (
	NamespaceLeaderboard = "leaderboard"
	NamespaceLaps        = "laps"
	NamespaceTeams       = "teams"
	NamespaceChart       = "chart"
	NamespaceConfig      = "config"
)

// LeaderboardKey is the key of a filtered leaderboard
func LeaderboardKey(raceID uuid.UUID, filter string) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceLeaderboard, raceID, filter)
}

// LapsKey is the key of one competitor's lap history
func LapsKey(raceID uuid.UUID, bib int) string {
	return fmt.Sprintf("%s:%s:%d", NamespaceLaps, raceID, bib)
}

// TeamsKey is the key of a nationality rollup for one gender
func TeamsKey(raceID uuid.UUID, gender string) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceTeams, raceID, gender)
}

// ChartKey is the key of chart data for a set of bibs. Bib order does not matter.
func ChartKey(raceID uuid.UUID, bibs []int) string {
	sorted := append([]int(nil), bibs...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, b := range sorted {
		parts[i] = strconv.Itoa(b)
	}
	return fmt.Sprintf("%s:%s:%s", NamespaceChart, raceID, strings.Join(parts, ","))
}

// ConfigKey is the key of a race's configuration and lifecycle info
func ConfigKey(raceID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", NamespaceConfig, raceID)
}

// RacePattern matches every key of the given namespaces for one race
func RacePattern(raceID uuid.UUID, namespaces ...string) *regexp.Regexp {
	quoted := make([]string, len(namespaces))
	for i, ns := range namespaces {
		quoted[i] = regexp.QuoteMeta(ns)
	}
	return regexp.MustCompile(fmt.Sprintf("^(?:%s):%s(?::|$)",
		strings.Join(quoted, "|"), regexp.QuoteMeta(raceID.String())))
}

// Namespace returns the namespace prefix of key
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
