package gp

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// MCMCSettings configures the affine-invariant ensemble sampler.
type MCMCSettings struct {
	Walkers int    `json:"walkers"`
	Samples int    `json:"samples"` // steps per walker, burn-in included
	Burn    int    `json:"burn"`
	Thin    int    `json:"thin"`
	Seed    uint64 `json:"seed"`
}

// DefaultMCMCSettings returns the policy chain configuration.
func DefaultMCMCSettings() MCMCSettings {
	return MCMCSettings{Walkers: 16, Samples: 200, Burn: 100, Thin: 2, Seed: 1}
}

// Validate checks the chain shape.
func (s MCMCSettings) Validate() error {
	switch {
	case s.Walkers < 4:
		return fmt.Errorf("mcmc walkers must be at least 4, got %d", s.Walkers)
	case s.Samples <= 0:
		return fmt.Errorf("mcmc samples must be positive, got %d", s.Samples)
	case s.Burn < 0 || s.Burn >= s.Samples:
		return fmt.Errorf("mcmc burn must be in [0, samples), got %d", s.Burn)
	case s.Thin <= 0:
		return fmt.Errorf("mcmc thin must be positive, got %d", s.Thin)
	}
	return nil
}

// Retained is the number of chain entries left after burn-in and thinning.
func (s MCMCSettings) Retained() int {
	steps := s.Samples - s.Burn
	if steps <= 0 || s.Thin <= 0 {
		return 0
	}
	return s.Walkers * ((steps + s.Thin - 1) / s.Thin)
}

// stretchScale is the a parameter of the Goodman & Weare stretch move.
const stretchScale = 2.0

// maxInitTries bounds the search for a finite starting position per walker.
const maxInitTries = 100

var (
	errNoFiniteStart = errors.New("no walker start has a finite likelihood")
	errStuckChain    = errors.New("mcmc chain never accepted a proposal")
)

// chainResult is the burned-in, thinned chain.
type chainResult struct {
	Chain              []Hyperparameters
	AcceptanceFraction float64
}

// runEnsemble explores the posterior over hyperparameters under a uniform
// prior on the open bounds box. The process is left factorised at an
// arbitrary chain point.
func runEnsemble(p *Process, bounds Bounds, s MCMCSettings, rng *rand.Rand) (chainResult, error) {
	logPost := func(v []float64) float64 {
		h := fromVector(v)
		if !bounds.Contains(h) {
			return math.Inf(-1)
		}
		if err := p.SetHyperparameters(h); err != nil {
			return math.Inf(-1)
		}
		lml := p.LogMarginalLikelihood()
		if math.IsNaN(lml) {
			return math.Inf(-1)
		}
		return lml
	}

	const ndim = 2
	hi := bounds.upper()
	pos := make([][]float64, s.Walkers)
	lps := make([]float64, s.Walkers)
	for k := range pos {
		pos[k] = make([]float64, ndim)
		lps[k] = math.Inf(-1)
		for try := 0; try < maxInitTries && math.IsInf(lps[k], -1); try++ {
			for d := range pos[k] {
				// Keep strictly inside the open interval.
				pos[k][d] = hi[d] * (0.01 + 0.98*rng.Float64())
			}
			lps[k] = logPost(pos[k])
		}
		if math.IsInf(lps[k], -1) {
			return chainResult{}, errNoFiniteStart
		}
	}

	chain := make([]Hyperparameters, 0, s.Retained())
	proposal := make([]float64, ndim)
	accepted, proposed := 0, 0
	for step := 0; step < s.Samples; step++ {
		for k := range pos {
			j := rng.IntN(s.Walkers - 1)
			if j >= k {
				j++
			}
			u := (stretchScale-1)*rng.Float64() + 1
			z := u * u / stretchScale
			for d := range proposal {
				proposal[d] = pos[j][d] + z*(pos[k][d]-pos[j][d])
			}
			lp := logPost(proposal)
			proposed++
			logAccept := float64(ndim-1)*math.Log(z) + lp - lps[k]
			if !math.IsInf(lp, -1) && math.Log(rng.Float64()) < logAccept {
				copy(pos[k], proposal)
				lps[k] = lp
				accepted++
			}
		}
		if step >= s.Burn && (step-s.Burn)%s.Thin == 0 {
			for k := range pos {
				chain = append(chain, fromVector(pos[k]))
			}
		}
	}

	if accepted == 0 {
		return chainResult{}, errStuckChain
	}
	return chainResult{
		Chain:              chain,
		AcceptanceFraction: float64(accepted) / float64(proposed),
	}, nil
}
