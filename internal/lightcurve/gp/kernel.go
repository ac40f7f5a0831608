package gp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Hyperparameters of the squared-exponential kernel.
type Hyperparameters struct {
	Amplitude   float64 `json:"amplitude"`
	LengthScale float64 `json:"length_scale"`
}

// IsZero reports whether no hyperparameters have been set.
func (h Hyperparameters) IsZero() bool {
	return h.Amplitude == 0 && h.LengthScale == 0
}

func (h Hyperparameters) vector() []float64 { return []float64{h.Amplitude, h.LengthScale} }

func fromVector(v []float64) Hyperparameters {
	return Hyperparameters{Amplitude: v[0], LengthScale: v[1]}
}

// SquaredExponential is k(a, b) = amplitude² · exp(−(a−b)² / 2ℓ²).
type SquaredExponential struct {
	Hyperparameters
}

// Cov evaluates the kernel between two epochs.
func (k SquaredExponential) Cov(a, b float64) float64 {
	d := (a - b) / k.LengthScale
	return k.Amplitude * k.Amplitude * math.Exp(-0.5*d*d)
}

// Variance is k(a, a).
func (k SquaredExponential) Variance() float64 {
	return k.Amplitude * k.Amplitude
}

// Bounds are the open upper limits of each hyperparameter; both lower
// limits are zero.
type Bounds struct {
	Amplitude   float64 `json:"amplitude"`
	LengthScale float64 `json:"length_scale"`
}

// errDegenerateBounds is wrapped when the data cannot bound a hyperparameter.
var errDegenerateBounds = errors.New("degenerate hyperparameter bounds")

// BoundsFor derives the fixed policy bounds from a filter's data:
// amplitude in (0, max|flux|), length scale in (0, std(time)).
func BoundsFor(times, flux []float64) (Bounds, error) {
	abs := make([]float64, len(flux))
	for i, f := range flux {
		abs[i] = math.Abs(f)
	}
	b := Bounds{
		Amplitude:   floats.Max(abs),
		LengthScale: stat.PopStdDev(times, nil),
	}
	if !(b.Amplitude > 0) || math.IsInf(b.Amplitude, 0) {
		return b, fmt.Errorf("%w: max |flux| is %g", errDegenerateBounds, b.Amplitude)
	}
	if !(b.LengthScale > 0) || math.IsInf(b.LengthScale, 0) {
		return b, fmt.Errorf("%w: std(time) is %g", errDegenerateBounds, b.LengthScale)
	}
	return b, nil
}

// Contains reports whether h lies strictly inside the bounds.
func (b Bounds) Contains(h Hyperparameters) bool {
	return h.Amplitude > 0 && h.Amplitude < b.Amplitude &&
		h.LengthScale > 0 && h.LengthScale < b.LengthScale
}

func (b Bounds) upper() []float64 { return []float64{b.Amplitude, b.LengthScale} }

// fromUnconstrained maps an unconstrained point onto the open box through a
// logistic transform, so the optimiser never has to handle the bounds.
func (b Bounds) fromUnconstrained(u []float64) Hyperparameters {
	hi := b.upper()
	v := make([]float64, len(u))
	for i := range u {
		v[i] = hi[i] / (1 + math.Exp(-u[i]))
	}
	return fromVector(v)
}
