package domain

// Reading holds instantaneous watts, one entry per electrical phase.
type Reading []float64

// Phase returns the value at index i or 0 when the reading is shorter.
func (r Reading) Phase(i int) float64 {
	if i < 0 || i >= len(r) {
		return 0
	}
	return r[i]
}

// Phases3 returns a new 3-entry reading, padding with zeros or truncating.
func (r Reading) Phases3() Reading {
	return Reading{r.Phase(0), r.Phase(1), r.Phase(2)}
}

func (r Reading) Sum() float64 {
	var total float64
	for _, v := range r {
		total += v
	}
	return total
}

func (r Reading) Clone() Reading {
	if r == nil {
		return nil
	}
	out := make(Reading, len(r))
	copy(out, r)
	return out
}
