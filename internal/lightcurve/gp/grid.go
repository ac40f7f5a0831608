package gp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultGridStep is the policy spacing of the prediction grid.
	DefaultGridStep = 0.2
	// DefaultGridMargin extends the grid on each side when extrapolating.
	DefaultGridMargin = 100.0
)

// GridSpec describes the regular time grid a fit is evaluated on.
type GridSpec struct {
	Step float64 `json:"step"`
	// Extrapolate widens the grid by Margin beyond the observed range.
	Extrapolate bool    `json:"extrapolate"`
	Margin      float64 `json:"margin"`
}

// DefaultGridSpec returns the policy grid: 0.2 spacing over the observed range.
func DefaultGridSpec() GridSpec {
	return GridSpec{Step: DefaultGridStep, Margin: DefaultGridMargin}
}

// Build returns a strictly increasing grid from min(times) to max(times)
// inclusive (widened by Margin when extrapolating).
func (g GridSpec) Build(times []float64) ([]float64, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("cannot build grid without epochs")
	}
	step := g.Step
	if !(step > 0) {
		return nil, fmt.Errorf("grid step must be positive, got %g", step)
	}
	lo, hi := floats.Min(times), floats.Max(times)
	if g.Extrapolate {
		lo -= g.Margin
		hi += g.Margin
	}

	n := int(math.Floor((hi-lo)/step + 1e-9))
	grid := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		grid = append(grid, lo+float64(i)*step)
	}
	// Always end exactly on hi so the grid covers every observation.
	last := grid[len(grid)-1]
	switch {
	case hi-last > 1e-6*step:
		grid = append(grid, hi)
	case len(grid) > 1:
		grid[len(grid)-1] = hi
	}
	return grid, nil
}
