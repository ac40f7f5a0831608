package align

import (
	"fmt"

	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
)

// Resampler interpolates aligned curves onto the uniform bin grid over
// Window at BinWidth spacing.
type Resampler struct {
	Window   lightcurve.Window
	BinWidth float64
}

// Features are the resampled mean curve and one vector per accepted draw.
type Features struct {
	Mean  lightcurve.FeatureVector   `json:"mean"`
	Draws []lightcurve.FeatureVector `json:"draws,omitempty"`
}

// CheckCoverage reports whether every shifted grid spans the window.
func (r Resampler) CheckCoverage(nf *NormalizedFit) bool {
	return r.Coverage(nf) == nil
}

// Coverage returns a GateRejection naming the first filter whose shifted
// grid does not reach from Window.Start to Window.End.
func (r Resampler) Coverage(nf *NormalizedFit) error {
	if nf == nil || !nf.aligned {
		return errNotAligned
	}
	for _, c := range nf.Curves {
		lo, hi := c.Shifted[0], c.Shifted[len(c.Shifted)-1]
		if lo > r.Window.Start || hi < r.Window.End {
			return &lightcurve.GateRejection{
				Gate:   lightcurve.GateCoverage,
				Reason: lightcurve.ReasonCoverage,
				Filter: c.Filter,
			}
		}
	}
	return nil
}

// Resample interpolates every curve, and every draw, onto the bin grid.
// It never extrapolates: a bin outside a filter's shifted range yields an
// *lightcurve.ExtrapolationError.
func (r Resampler) Resample(nf *NormalizedFit) (*Features, error) {
	if nf == nil || !nf.aligned {
		return nil, errNotAligned
	}
	bins, err := r.Window.Bins(r.BinWidth)
	if err != nil {
		return nil, err
	}

	filters := make([]string, len(nf.Curves))
	for i, c := range nf.Curves {
		filters[i] = c.Filter
	}
	newVector := func() lightcurve.FeatureVector {
		return lightcurve.FeatureVector{
			ObjectID: nf.ObjectID,
			Filters:  filters,
			Bins:     bins,
			Values:   make([]float64, 0, len(bins)*len(filters)),
		}
	}

	out := &Features{Mean: newVector()}
	nDraws := -1
	for _, c := range nf.Curves {
		if nDraws < 0 || len(c.Draws) < nDraws {
			nDraws = len(c.Draws)
		}
	}
	for i := 0; i < nDraws; i++ {
		out.Draws = append(out.Draws, newVector())
	}

	for _, c := range nf.Curves {
		vals, err := interpolate(c.Filter, c.Shifted, c.Mean, bins)
		if err != nil {
			return nil, err
		}
		out.Mean.Values = append(out.Mean.Values, vals...)

		for i := 0; i < nDraws; i++ {
			vals, err := interpolate(c.Filter, c.Shifted, c.Draws[i], bins)
			if err != nil {
				return nil, err
			}
			out.Draws[i].Values = append(out.Draws[i].Values, vals...)
		}
	}
	return out, nil
}

// interpolate evaluates the piecewise-linear interpolant of (xs, ys) at
// every bin, refusing bins outside [xs[0], xs[last]].
func interpolate(filter string, xs, ys, bins []float64) ([]float64, error) {
	if len(xs) < 2 {
		return nil, fmt.Errorf("filter %s: need at least 2 grid points to interpolate, got %d", filter, len(xs))
	}
	lo, hi := xs[0], xs[len(xs)-1]
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("filter %s: %w", filter, err)
	}

	out := make([]float64, len(bins))
	for i, b := range bins {
		if b < lo || b > hi {
			return nil, &lightcurve.ExtrapolationError{Filter: filter, X: b, Min: lo, Max: hi}
		}
		out[i] = pl.Predict(b)
	}
	return out, nil
}
