package leaderboard

// AgeBand is one configured age bracket, inclusive on both ends
type AgeBand struct {
	Name   string
	MinAge int
	MaxAge int
}

// AgeBands is the ordered bracket table of a race
type AgeBands []AgeBand

// Lookup returns the name of the first band containing age, or "" when the
// age is unknown or no band covers it.
func (b AgeBands) Lookup(age *int) string {
	if age == nil {
		return ""
	}
	for _, band := range b {
		if *age >= band.MinAge && *age <= band.MaxAge {
			return band.Name
		}
	}
	return ""
}
