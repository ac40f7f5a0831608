// Package plotting renders aligned, normalised light curves: a PNG with one
// panel per filter for batch runs, and an interactive HTML chart for the
// API.
package plotting

import (
	"errors"
	"fmt"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/align"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

var errNotAligned = errors.New("plotting requires an aligned fit")

// Panel holds one filter's series in the aligned, normalised frame: times
// are relative to the peak epoch and fluxes are divided by the global scale.
type Panel struct {
	Filter string
	Time   []float64
	Mean   []float64
	Std    []float64
	Draws  [][]float64

	ObsTime []float64
	ObsFlux []float64
	ObsErr  []float64
}

// Figure is everything needed to draw one object.
type Figure struct {
	ObjectID   string
	PeakFilter string
	Window     lightcurve.Window
	Panels     []Panel
}

// NewFigure builds a figure from an aligned fit. fits supplies the
// observations for each filter; a filter without a fit is drawn without
// points.
func NewFigure(nf *align.NormalizedFit, fits map[string]*gp.Fit, window lightcurve.Window) (*Figure, error) {
	if nf == nil || !nf.Aligned() {
		return nil, errNotAligned
	}
	fig := &Figure{ObjectID: nf.ObjectID, PeakFilter: nf.PeakFilter, Window: window}
	for _, c := range nf.Curves {
		p := Panel{Filter: c.Filter, Time: c.Shifted, Mean: c.Mean, Std: c.Std, Draws: c.Draws}
		if fit := fits[c.Filter]; fit != nil {
			n := len(fit.Times)
			if len(fit.Flux) != n || len(fit.FluxErr) != n {
				return nil, fmt.Errorf("filter %s: mismatched observation columns", c.Filter)
			}
			p.ObsTime = make([]float64, n)
			p.ObsFlux = make([]float64, n)
			p.ObsErr = make([]float64, n)
			for i := range n {
				p.ObsTime[i] = fit.Times[i] - nf.PeakEpoch
				p.ObsFlux[i] = fit.Flux[i] / nf.Scale
				p.ObsErr[i] = fit.FluxErr[i] / nf.Scale
			}
		}
		fig.Panels = append(fig.Panels, p)
	}
	return fig, nil
}

// FromFits normalises and aligns cached fits, without draws, and builds a
// figure. order fixes panel order; filters missing from fits are skipped.
func FromFits(objectID string, order []string, fits map[string]*gp.Fit, window lightcurve.Window) (*Figure, error) {
	var present []string
	for _, f := range order {
		if fits[f] != nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil, fmt.Errorf("no cached fits for %s", objectID)
	}
	nf, err := align.NormalizeAndAlign(objectID, present, fits, nil)
	if err != nil {
		return nil, err
	}
	return NewFigure(nf, fits, window)
}
