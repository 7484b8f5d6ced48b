package service

import (
	"math"

	"github.com/berfenger/b2500meter/internal/core/domain"
)

// PhaseShaper prepares readings for CT devices: phases are collapsed into
// phase A and negated values are flipped unless disabled.
type PhaseShaper struct {
	DisableSum      bool
	DisableAbsolute bool
}

func (s PhaseShaper) Shape(reading domain.Reading) domain.Reading {
	out := reading.Phases3()
	if !s.DisableSum {
		out = domain.Reading{out[0] + out[1] + out[2], 0, 0}
	}
	if !s.DisableAbsolute {
		for i := range out {
			out[i] = math.Abs(out[i])
		}
	}
	return out
}
