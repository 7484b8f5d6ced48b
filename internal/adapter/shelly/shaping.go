package shelly

import (
	"math"
	"strconv"

	"github.com/berfenger/b2500meter/internal/core/domain"
)

const (
	// nudge keeps reported values off exact integers and zero, which some
	// batteries treat as missing data.
	nudge = 0.001

	phaseFloor = 0.1
)

type EMStatus struct {
	AActPower     float64 `json:"a_act_power"`
	BActPower     float64 `json:"b_act_power"`
	CActPower     float64 `json:"c_act_power"`
	TotalActPower float64 `json:"total_act_power"`
}

type EM1Status struct {
	ActPower float64 `json:"act_power"`
}

// roundTo rounds to the nearest value with the given decimals, using the
// exact decimal expansion of v.
func roundTo(v float64, decimals int) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	return r
}

func nudged(v float64) float64 {
	if v == math.Trunc(v) || v == 0 {
		return v + nudge
	}
	return v
}

func phasePower(v float64) float64 {
	if math.Abs(v) < phaseFloor {
		return nudge
	}
	return nudged(roundTo(v, 1))
}

func totalPower(v float64) float64 {
	return nudged(roundTo(v, 3))
}

// normalizePhases maps a single reading to phase A. Readings that are
// neither 1 nor 3 phases report zero.
func normalizePhases(reading domain.Reading) domain.Reading {
	switch len(reading) {
	case 1:
		return domain.Reading{reading[0], 0, 0}
	case 3:
		return reading.Clone()
	}
	return domain.Reading{0, 0, 0}
}

func NewEMStatus(reading domain.Reading) EMStatus {
	p := normalizePhases(reading)
	return EMStatus{
		AActPower:     phasePower(p[0]),
		BActPower:     phasePower(p[1]),
		CActPower:     phasePower(p[2]),
		TotalActPower: totalPower(p.Sum()),
	}
}

func NewEM1Status(reading domain.Reading) EM1Status {
	return EM1Status{ActPower: totalPower(reading.Sum())}
}
