package align

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// PeakTolerance is how close a normalised maximum must be to 1.0 for its
// filter to be taken as the peak filter.
const PeakTolerance = 1e-9

var (
	errNotNormalized = errors.New("alignment requires a normalised fit")
	errNotAligned    = errors.New("resampling requires an aligned fit")
)

// Curve is one filter's normalised fit. Shifted is nil until the fit has
// been aligned.
type Curve struct {
	Filter  string      `json:"filter"`
	Grid    []float64   `json:"grid"`
	Shifted []float64   `json:"shifted,omitempty"`
	Mean    []float64   `json:"mean"`
	Std     []float64   `json:"std"`
	Draws   [][]float64 `json:"draws,omitempty"`
}

// NormalizedFit is the per-object result of normalisation and alignment.
// Curves follow the declared filter order.
type NormalizedFit struct {
	ObjectID   string   `json:"snid"`
	Scale      float64  `json:"scale"`
	PeakFilter string   `json:"peak_filter,omitempty"`
	PeakEpoch  float64  `json:"peak_epoch"`
	Curves     []*Curve `json:"curves"`

	aligned bool
}

// Curve returns the named filter's curve, or nil.
func (nf *NormalizedFit) Curve(filter string) *Curve {
	for _, c := range nf.Curves {
		if c.Filter == filter {
			return c
		}
	}
	return nil
}

// Aligned reports whether Align has completed.
func (nf *NormalizedFit) Aligned() bool { return nf.aligned }

// Normalize divides every mean curve, standard deviation and draw by the
// maximum of all mean curves. order fixes the curve order; every filter in
// order must have a fit. The input fits are not modified.
func Normalize(objectID string, order []string, fits map[string]*gp.Fit, draws map[string][][]float64) (*NormalizedFit, error) {
	if len(order) == 0 {
		return nil, &lightcurve.ConfigurationError{Field: "filters", Problem: "no filters to normalise"}
	}
	scale := math.Inf(-1)
	for _, f := range order {
		fit, ok := fits[f]
		if !ok || fit == nil || len(fit.Mean) == 0 {
			return nil, fmt.Errorf("no fit for filter %s", f)
		}
		scale = math.Max(scale, floats.Max(fit.Mean))
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: global maximum is %g", lightcurve.ErrNoPeakFound, scale)
	}

	nf := &NormalizedFit{ObjectID: objectID, Scale: scale}
	for _, f := range order {
		fit := fits[f]
		c := &Curve{
			Filter: f,
			Grid:   append([]float64(nil), fit.Grid...),
			Mean:   scaled(fit.Mean, scale),
			Std:    scaled(fit.Std, scale),
		}
		for _, d := range draws[f] {
			c.Draws = append(c.Draws, scaled(d, scale))
		}
		nf.Curves = append(nf.Curves, c)
	}
	return nf, nil
}

func scaled(v []float64, scale float64) []float64 {
	out := append([]float64(nil), v...)
	floats.Scale(1/scale, out)
	return out
}

// Align finds the peak filter, the first in declared order whose normalised
// maximum is within PeakTolerance of 1.0, takes the grid time at its argmax
// as the peak epoch, and shifts every curve's grid by it.
func (nf *NormalizedFit) Align() error {
	if nf == nil || !(nf.Scale > 0) {
		return errNotNormalized
	}
	found := false
	for _, c := range nf.Curves {
		i := floats.MaxIdx(c.Mean)
		if math.Abs(c.Mean[i]-1) <= PeakTolerance {
			nf.PeakFilter = c.Filter
			nf.PeakEpoch = c.Grid[i]
			found = true
			break
		}
	}
	if !found {
		return lightcurve.ErrNoPeakFound
	}

	for _, c := range nf.Curves {
		c.Shifted = make([]float64, len(c.Grid))
		for i, t := range c.Grid {
			c.Shifted[i] = t - nf.PeakEpoch
		}
	}
	nf.aligned = true
	return nil
}

// NormalizeAndAlign runs Normalize followed by Align.
func NormalizeAndAlign(objectID string, order []string, fits map[string]*gp.Fit, draws map[string][][]float64) (*NormalizedFit, error) {
	nf, err := Normalize(objectID, order, fits, draws)
	if err != nil {
		return nil, err
	}
	if err := nf.Align(); err != nil {
		return nil, err
	}
	return nf, nil
}
