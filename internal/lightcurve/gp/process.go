package gp

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// ErrNotPositiveDefinite is returned when a covariance matrix cannot be
// factorised even after adding diagonal jitter.
var ErrNotPositiveDefinite = errors.New("covariance matrix is not positive definite")

// Jitter schedule, relative to the kernel variance.
const (
	jitterStart = 1e-10
	jitterMax   = 1e-4
)

// Process is a zero-mean Gaussian process conditioned on one filter's
// observations. Flux errors enter as a heteroscedastic diagonal noise term.
// A Process is not safe for concurrent use.
type Process struct {
	x, y, yerr []float64

	kernel SquaredExponential
	chol   mat.Cholesky
	alpha  *mat.VecDense // K⁻¹ y
	ready  bool
}

// NewProcess conditions a process on the given observations.
func NewProcess(x, y, yerr []float64) (*Process, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("process needs at least one observation")
	}
	if len(x) != len(y) || len(x) != len(yerr) {
		return nil, fmt.Errorf("observation columns differ in length: %d, %d, %d", len(x), len(y), len(yerr))
	}
	return &Process{x: x, y: y, yerr: yerr}, nil
}

// Hyperparameters returns the point the process is currently factorised at.
func (p *Process) Hyperparameters() Hyperparameters { return p.kernel.Hyperparameters }

// SetHyperparameters rebuilds and factorises the training covariance.
func (p *Process) SetHyperparameters(h Hyperparameters) error {
	if !(h.Amplitude > 0) || !(h.LengthScale > 0) {
		p.ready = false
		return fmt.Errorf("hyperparameters must be positive, got %+v", h)
	}
	p.kernel = SquaredExponential{h}

	n := len(p.x)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := p.kernel.Cov(p.x[i], p.x[j])
			if i == j {
				v += p.yerr[i] * p.yerr[i]
			}
			k.SetSym(i, j, v)
		}
	}
	if !factorize(&p.chol, k, p.kernel.Variance()) {
		p.ready = false
		return ErrNotPositiveDefinite
	}

	p.alpha = mat.NewVecDense(n, nil)
	if err := p.chol.SolveVecTo(p.alpha, mat.NewVecDense(n, p.y)); err != nil {
		p.ready = false
		return fmt.Errorf("solve K⁻¹y: %w", err)
	}
	p.ready = true
	return nil
}

// LogMarginalLikelihood is log p(y | x, θ) at the current hyperparameters.
func (p *Process) LogMarginalLikelihood() float64 {
	if !p.ready {
		return math.Inf(-1)
	}
	n := float64(len(p.y))
	fit := mat.Dot(mat.NewVecDense(len(p.y), p.y), p.alpha)
	return -0.5*fit - 0.5*p.chol.LogDet() - 0.5*n*math.Log(2*math.Pi)
}

// crossCov returns K(x, grid), an n×m matrix.
func (p *Process) crossCov(grid []float64) *mat.Dense {
	ks := mat.NewDense(len(p.x), len(grid), nil)
	for i, xi := range p.x {
		for j, g := range grid {
			ks.Set(i, j, p.kernel.Cov(xi, g))
		}
	}
	return ks
}

// whitened returns L⁻¹ K(x, grid) where K = L Lᵀ.
func (p *Process) whitened(ks *mat.Dense) (*mat.Dense, error) {
	var l mat.TriDense
	p.chol.LTo(&l)
	var v mat.Dense
	if err := v.Solve(&l, ks); err != nil {
		return nil, fmt.Errorf("triangular solve: %w", err)
	}
	return &v, nil
}

// Predict returns the posterior mean and standard deviation on grid.
func (p *Process) Predict(grid []float64) (mean, std []float64, err error) {
	if !p.ready {
		return nil, nil, fmt.Errorf("process has no valid hyperparameters")
	}
	ks := p.crossCov(grid)
	m := mat.NewVecDense(len(grid), nil)
	m.MulVec(ks.T(), p.alpha)

	v, err := p.whitened(ks)
	if err != nil {
		return nil, nil, err
	}

	mean = make([]float64, len(grid))
	std = make([]float64, len(grid))
	prior := p.kernel.Variance()
	for j := range grid {
		col := mat.Col(nil, j, v)
		variance := prior - floats.Dot(col, col)
		mean[j] = m.AtVec(j)
		std[j] = math.Sqrt(math.Max(variance, 0))
	}
	return mean, std, nil
}

// PredictCov returns the posterior mean and full covariance on grid.
func (p *Process) PredictCov(grid []float64) ([]float64, *mat.SymDense, error) {
	if !p.ready {
		return nil, nil, fmt.Errorf("process has no valid hyperparameters")
	}
	ks := p.crossCov(grid)
	m := mat.NewVecDense(len(grid), nil)
	m.MulVec(ks.T(), p.alpha)

	v, err := p.whitened(ks)
	if err != nil {
		return nil, nil, err
	}

	kss := mat.NewSymDense(len(grid), nil)
	for i := range grid {
		for j := i; j < len(grid); j++ {
			kss.SetSym(i, j, p.kernel.Cov(grid[i], grid[j]))
		}
	}
	cov := mat.NewSymDense(len(grid), nil)
	cov.SymRankK(kss, -1, v.T())
	return mat.Col(nil, 0, m), cov, nil
}

// Draw samples count realisations of the conditioned process on grid.
func (p *Process) Draw(grid []float64, count int, src rand.Source) ([][]float64, error) {
	mean, cov, err := p.PredictCov(grid)
	if err != nil {
		return nil, err
	}

	scale := p.kernel.Variance()
	var normal *distmv.Normal
	for jitter := jitterStart; jitter <= jitterMax; jitter *= 10 {
		for i := range grid {
			cov.SetSym(i, i, cov.At(i, i)+jitter*scale)
		}
		var ok bool
		if normal, ok = distmv.NewNormal(mean, cov, src); ok {
			break
		}
	}
	if normal == nil {
		return nil, ErrNotPositiveDefinite
	}

	draws := make([][]float64, count)
	for i := range draws {
		draws[i] = normal.Rand(nil)
	}
	return draws, nil
}

// factorize attempts a Cholesky factorisation of k, adding growing diagonal
// jitter relative to scale when k is numerically indefinite.
func factorize(chol *mat.Cholesky, k *mat.SymDense, scale float64) bool {
	if chol.Factorize(k) {
		return true
	}
	n := k.SymmetricDim()
	added := 0.0
	for jitter := jitterStart; jitter <= jitterMax; jitter *= 10 {
		step := jitter*scale - added
		for i := 0; i < n; i++ {
			k.SetSym(i, i, k.At(i, i)+step)
		}
		added += step
		if chol.Factorize(k) {
			return true
		}
	}
	return false
}
