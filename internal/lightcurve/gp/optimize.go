package gp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Starting points in the unconstrained (logit) space. They are fixed so the
// optimiser path is deterministic for identical input.
var optimizeStarts = [][]float64{
	{0, 0},
	{1.5, -1.5},
	{-1.5, 1.5},
	{1.5, 1.5},
	{-1.5, -1.5},
}

// penalty stands in for −log L where the likelihood is not finite, keeping
// the simplex arithmetic finite.
const penalty = 1e100

var errNoConvergence = errors.New("marginal likelihood optimisation did not converge")

// maximizeLikelihood finds the hyperparameters that maximise the marginal
// likelihood inside bounds. On return p is factorised at the optimum.
func maximizeLikelihood(p *Process, bounds Bounds) (Hyperparameters, float64, error) {
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			if err := p.SetHyperparameters(bounds.fromUnconstrained(u)); err != nil {
				return penalty
			}
			lml := p.LogMarginalLikelihood()
			if math.IsNaN(lml) || math.IsInf(lml, 0) {
				return penalty
			}
			return -lml
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 4000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 50,
		},
	}

	bestF := math.Inf(1)
	var bestU []float64
	for _, start := range optimizeStarts {
		res, err := optimize.Minimize(problem, append([]float64(nil), start...), settings, &optimize.NelderMead{})
		if res == nil {
			tracef("optimizer start %v failed: %v", start, err)
			continue
		}
		if res.F < bestF {
			bestF = res.F
			bestU = append(bestU[:0], res.X...)
		}
	}
	if bestU == nil || bestF >= penalty {
		return Hyperparameters{}, math.Inf(-1), errNoConvergence
	}

	best := bounds.fromUnconstrained(bestU)
	if err := p.SetHyperparameters(best); err != nil {
		return Hyperparameters{}, math.Inf(-1), err
	}
	return best, -bestF, nil
}
