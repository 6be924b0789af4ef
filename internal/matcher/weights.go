package matcher

// Weights is the confidence scoring table. Gender is a gate, not a weight:
// a candidate of the other gender always scores zero.
type Weights struct {
	Surname     float64
	GivenName   float64
	Nationality float64
	BirthYear   float64
	// NameFloor is the minimum name similarity that earns any name weight.
	NameFloor float64
}

// DefaultWeights returns the production weight table. Exact surname and
// given name together reach 0.8, so a same-gender name match is accepted at
// the default threshold without nationality or age.
func DefaultWeights() Weights {
	return Weights{
		Surname:     0.45,
		GivenName:   0.35,
		Nationality: 0.1,
		BirthYear:   0.1,
		NameFloor:   0.8,
	}
}
