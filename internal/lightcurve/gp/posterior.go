package gp

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
)

// Draws holds accepted realisation curves on the fit grid, in draw order.
type Draws struct {
	Curves     [][]float64
	Considered int
	Rejected   int
}

// PosteriorSampler draws realisation curves consistent with a Fit.
type PosteriorSampler struct {
	Seed uint64
}

// Draw collects count realisations for fit.
//
// In ModeMCMC the retained chain is walked in order, one draw per chain
// sample, and each draw is tested against the fit's ±1σ band. When the chain
// runs out first the accepted curves are returned together with an
// *lightcurve.InsufficientSamplesError.
//
// In ModeOptimize count independent draws are taken at the optimum with no
// acceptance test.
func (s PosteriorSampler) Draw(fit *Fit, count int, mode Mode) (Draws, error) {
	if fit == nil {
		return Draws{}, errors.New("posterior draw needs a fit")
	}
	if count <= 0 {
		return Draws{}, nil
	}
	proc, err := fit.process()
	if err != nil {
		return Draws{}, err
	}
	rng := newRand(s.Seed, fit.Filter)

	switch mode {
	case ModeOptimize:
		h := fit.Hyper
		if h.IsZero() {
			if h, _, err = maximizeLikelihood(proc, fit.Bounds); err != nil {
				return Draws{}, &lightcurve.FittingError{Filter: fit.Filter, Err: err}
			}
			fit.Hyper = h
		}
		if err := proc.SetHyperparameters(h); err != nil {
			return Draws{}, &lightcurve.FittingError{Filter: fit.Filter, Err: err}
		}
		curves, err := proc.Draw(fit.Grid, count, rng)
		if err != nil {
			return Draws{}, fmt.Errorf("draw filter %s: %w", fit.Filter, err)
		}
		return Draws{Curves: curves, Considered: count}, nil

	case ModeMCMC:
		return s.drawFromChain(proc, fit, count, rng)
	}
	return Draws{}, fmt.Errorf("unsupported mode %v", mode)
}

func (s PosteriorSampler) drawFromChain(proc *Process, fit *Fit, count int, rng *rand.Rand) (Draws, error) {
	var out Draws
	for _, h := range fit.Chain {
		out.Considered++
		if err := proc.SetHyperparameters(h); err != nil {
			out.Rejected++
			tracef("filter %s skip chain sample %+v: %v", fit.Filter, h, err)
			continue
		}
		curve, err := proc.Draw(fit.Grid, 1, rng)
		if err != nil {
			out.Rejected++
			tracef("filter %s draw at %+v: %v", fit.Filter, h, err)
			continue
		}
		if !acceptDraw(curve[0], fit.Mean, fit.Std) {
			out.Rejected++
			continue
		}
		out.Curves = append(out.Curves, curve[0])
		if len(out.Curves) == count {
			return out, nil
		}
	}

	opsf("filter %s: chain exhausted with %d of %d draws accepted", fit.Filter, len(out.Curves), count)
	return out, &lightcurve.InsufficientSamplesError{
		Filter:    fit.Filter,
		Requested: count,
		Accepted:  len(out.Curves),
		ChainLen:  len(fit.Chain),
	}
}

// acceptDraw rejects a curve only when it lies outside [mean−std, mean+std]
// at every grid point.
func acceptDraw(curve, mean, std []float64) bool {
	for i, v := range curve {
		if v >= mean[i]-std[i] && v <= mean[i]+std[i] {
			return true
		}
	}
	return false
}
