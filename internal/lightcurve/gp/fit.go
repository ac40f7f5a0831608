package gp

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
)

// Mode selects how hyperparameters are determined.
type Mode int

const (
	// ModeOptimize fits the maximum-marginal-likelihood point.
	ModeOptimize Mode = iota
	// ModeMCMC marginalises over an ensemble MCMC chain.
	ModeMCMC
)

func (m Mode) String() string {
	switch m {
	case ModeOptimize:
		return "optimize"
	case ModeMCMC:
		return "mcmc"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "optimize" or "mcmc", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optimize", "optimise", "opt":
		return ModeOptimize, nil
	case "mcmc":
		return ModeMCMC, nil
	}
	return 0, fmt.Errorf("unknown fit mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// errTooFewEpochs is wrapped into a FittingError for degenerate series.
var errTooFewEpochs = errors.New("fewer than 2 distinct epochs")

// Fit is the result of fitting one filter. The grid is strictly increasing
// and covers every input epoch. Chain is only populated in ModeMCMC.
type Fit struct {
	Filter string          `json:"filter"`
	Mode   Mode            `json:"mode"`
	Grid   []float64       `json:"grid"`
	Mean   []float64       `json:"mean"`
	Std    []float64       `json:"std"`
	Hyper  Hyperparameters `json:"hyper"`
	Bounds Bounds          `json:"bounds"`

	Chain              []Hyperparameters `json:"chain,omitempty"`
	AcceptanceFraction float64           `json:"acceptance_fraction,omitempty"`

	// Conditioning data, kept so draws can be taken without the series.
	Times   []float64 `json:"times"`
	Flux    []float64 `json:"flux"`
	FluxErr []float64 `json:"flux_err"`

	// Digest is Fitter.Digest of the inputs that produced this fit.
	Digest string `json:"digest"`
}

// process rebuilds a Process conditioned on the fit's data.
func (f *Fit) process() (*Process, error) {
	return NewProcess(f.Times, f.Flux, f.FluxErr)
}

// Fitter fits FilterSeries in a fixed mode on a fixed grid specification.
// A Fitter holds no per-call state and may be shared between goroutines.
type Fitter struct {
	Mode Mode
	Grid GridSpec
	MCMC MCMCSettings
}

// NewFitter returns a Fitter with the policy grid and chain settings.
func NewFitter(mode Mode) *Fitter {
	return &Fitter{Mode: mode, Grid: DefaultGridSpec(), MCMC: DefaultMCMCSettings()}
}

// Digest fingerprints everything a fit of series depends on: the time-ordered
// (time, flux, flux_err) columns, the mode, the grid and, in ModeMCMC, the
// chain settings including the seed. A cached fit is only reusable when its
// Digest matches.
func (ft *Fitter) Digest(series lightcurve.FilterSeries) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	putInt := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	h.Write([]byte(series.Filter))
	h.Write([]byte{0})
	times, flux, fluxErr := series.Columns()
	putInt(uint64(len(times)))
	for i := range times {
		put(times[i])
		put(flux[i])
		put(fluxErr[i])
	}

	putInt(uint64(ft.Mode))
	put(ft.Grid.Step)
	if ft.Grid.Extrapolate {
		putInt(1)
		put(ft.Grid.Margin)
	} else {
		putInt(0)
	}
	if ft.Mode == ModeMCMC {
		putInt(uint64(ft.MCMC.Walkers))
		putInt(uint64(ft.MCMC.Samples))
		putInt(uint64(ft.MCMC.Burn))
		putInt(uint64(ft.MCMC.Thin))
		putInt(ft.MCMC.Seed)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fit regresses flux against time for one filter. Any failure is returned
// as a *lightcurve.FittingError.
func (ft *Fitter) Fit(series lightcurve.FilterSeries) (*Fit, error) {
	fail := func(err error) (*Fit, error) {
		return nil, &lightcurve.FittingError{Filter: series.Filter, Err: err}
	}

	if series.DistinctTimes() < 2 {
		return fail(errTooFewEpochs)
	}
	times, flux, fluxErr := series.Columns()
	bounds, err := BoundsFor(times, flux)
	if err != nil {
		return fail(err)
	}
	grid, err := ft.Grid.Build(times)
	if err != nil {
		return fail(err)
	}
	proc, err := NewProcess(times, flux, fluxErr)
	if err != nil {
		return fail(err)
	}

	fit := &Fit{
		Filter:  series.Filter,
		Mode:    ft.Mode,
		Grid:    grid,
		Bounds:  bounds,
		Times:   times,
		Flux:    flux,
		FluxErr: fluxErr,
		Digest:  ft.Digest(series),
	}

	switch ft.Mode {
	case ModeOptimize:
		h, lml, err := maximizeLikelihood(proc, bounds)
		if err != nil {
			return fail(err)
		}
		tracef("filter %s optimum amplitude=%.4g length=%.4g lml=%.4g", series.Filter, h.Amplitude, h.LengthScale, lml)
		fit.Hyper = h
		if fit.Mean, fit.Std, err = proc.Predict(grid); err != nil {
			return fail(err)
		}

	case ModeMCMC:
		if err := ft.MCMC.Validate(); err != nil {
			return fail(err)
		}
		rng := newRand(ft.MCMC.Seed, series.Filter)
		res, err := runEnsemble(proc, bounds, ft.MCMC, rng)
		if err != nil {
			return fail(err)
		}
		if len(res.Chain) == 0 {
			return fail(errors.New("mcmc retained no samples after burn-in"))
		}
		diagf("filter %s chain=%d acceptance=%.3f", series.Filter, len(res.Chain), res.AcceptanceFraction)
		fit.Chain = res.Chain
		fit.AcceptanceFraction = res.AcceptanceFraction
		fit.Hyper = chainMean(res.Chain)
		if fit.Mean, fit.Std, err = marginalPredict(proc, res.Chain, grid); err != nil {
			return fail(err)
		}

	default:
		return fail(fmt.Errorf("unsupported mode %v", ft.Mode))
	}

	for i := range fit.Mean {
		if math.IsNaN(fit.Mean[i]) || math.IsInf(fit.Mean[i], 0) || math.IsNaN(fit.Std[i]) {
			return fail(fmt.Errorf("non-finite prediction at grid point %d", i))
		}
	}
	return fit, nil
}

// marginalPredict averages the predictive distribution over the chain:
// the mean of the means, and the variance by the law of total variance.
func marginalPredict(p *Process, chain []Hyperparameters, grid []float64) (mean, std []float64, err error) {
	sum := make([]float64, len(grid))
	sumSq := make([]float64, len(grid))
	used := 0
	for _, h := range chain {
		if err := p.SetHyperparameters(h); err != nil {
			continue
		}
		m, s, err := p.Predict(grid)
		if err != nil {
			continue
		}
		for i := range grid {
			sum[i] += m[i]
			sumSq[i] += s[i]*s[i] + m[i]*m[i]
		}
		used++
	}
	if used == 0 {
		return nil, nil, errors.New("no chain sample produced a prediction")
	}

	n := float64(used)
	mean = make([]float64, len(grid))
	std = make([]float64, len(grid))
	for i := range grid {
		mean[i] = sum[i] / n
		std[i] = math.Sqrt(math.Max(sumSq[i]/n-mean[i]*mean[i], 0))
	}
	return mean, std, nil
}

func chainMean(chain []Hyperparameters) Hyperparameters {
	var h Hyperparameters
	for _, c := range chain {
		h.Amplitude += c.Amplitude
		h.LengthScale += c.LengthScale
	}
	n := float64(len(chain))
	h.Amplitude /= n
	h.LengthScale /= n
	return h
}

// newRand seeds a generator per (seed, filter) so every filter's stream is
// reproducible regardless of processing order.
func newRand(seed uint64, filter string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(filter))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}
