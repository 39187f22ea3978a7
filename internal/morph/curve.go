package morph

import (
	"math"

	"snapblaster-core/internal/bus"
	"snapblaster-core/internal/model"
)

// curveValue evaluates a curve at progress p. All four satisfy curve(0) = 0
// and curve(1) = 1 (spec.md §8 "Boundary", §4.6 step 7).
func curveValue(c model.Curve, p float64) float64 {
	switch c {
	case model.Exponential:
		return p * p
	case model.Logarithmic:
		return math.Sqrt(p)
	case model.SCurve:
		return 0.5 * (1 - math.Cos(math.Pi*p))
	default:
		return p
	}
}

// toModelCurve converts the bus's wire-level Curve (carried on
// MorphInitiated) to the model package's curve enum, kept distinct per
// model/types.go's doc comment to avoid a model→bus dependency.
func toModelCurve(c bus.Curve) model.Curve {
	switch c {
	case bus.Exponential:
		return model.Exponential
	case bus.Logarithmic:
		return model.Logarithmic
	case bus.SCurve:
		return model.SCurve
	default:
		return model.Linear
	}
}

func clampRound(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 127 {
		v = 127
	}
	return uint8(math.Round(v))
}
