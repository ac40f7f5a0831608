package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/align"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// FitCache stores GP fits between runs. A hit skips fitting for that filter.
type FitCache interface {
	Get(ctx context.Context, objectID, filter string, mode gp.Mode) (*gp.Fit, bool, error)
	Put(ctx context.Context, objectID string, fit *gp.Fit) error
}

// Recorder receives per-object telemetry.
type Recorder interface {
	ObserveOutcome(status, gate string)
	ObserveStage(stage string, d time.Duration)
	ObserveDraws(accepted, rejected int)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFitCache makes the pipeline consult and fill c.
func WithFitCache(c FitCache) Option { return func(p *Pipeline) { p.cache = c } }

// WithRecorder sends stage timings and outcomes to r.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// Pipeline processes one object at a time. It holds only configuration and
// collaborators, so one Pipeline may serve many goroutines provided the
// cache and recorder are safe for concurrent use.
type Pipeline struct {
	cfg      Config
	gate     lightcurve.SelectionGate
	fitter   *gp.Fitter
	sampler  gp.PosteriorSampler
	resample align.Resampler
	cache    FitCache
	recorder Recorder
}

// New validates cfg and returns a Pipeline. An invalid configuration is
// reported as a *lightcurve.ConfigurationError.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	p := &Pipeline{
		cfg:      cfg,
		gate:     cfg.Gate(),
		fitter:   &gp.Fitter{Mode: cfg.Mode, Grid: cfg.Grid, MCMC: cfg.MCMC},
		sampler:  gp.PosteriorSampler{Seed: cfg.Seed},
		resample: align.Resampler{Window: cfg.Window, BinWidth: cfg.BinWidth},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns a copy of the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg.Clone() }

// Process runs every stage for rec and returns its Outcome.
func (p *Pipeline) Process(ctx context.Context, rec *lightcurve.Record) (out Outcome) {
	out = Outcome{Stage: StageIngested}
	if rec != nil {
		out.ObjectID, out.Redshift, out.Type = rec.ObjectID, rec.Redshift, rec.Type
	}
	defer func() {
		if r := recover(); r != nil {
			opsf("object %s: panic in stage after %s: %v", out.ObjectID, out.Stage, r)
			out.Features, out.DrawFeatures = nil, nil
			out.exclude(lightcurve.GateFitting, "internal error", "", fmt.Errorf("panic: %v", r))
		}
		if p.recorder != nil {
			p.recorder.ObserveOutcome(string(out.Status), string(out.Gate))
		}
	}()

	if rec == nil {
		return *out.exclude(lightcurve.GateBasicCuts, lightcurve.ReasonMissingFilter, "", errors.New("nil record"))
	}

	// GATED
	if err := p.gate.Check(rec); err != nil {
		var gr *lightcurve.GateRejection
		errors.As(err, &gr)
		diagf("object %s: %v", rec.ObjectID, err)
		return *out.exclude(gr.Gate, gr.Reason, gr.Filter, err)
	}
	out.Stage = StageGated

	// FITTED
	start := time.Now()
	fits := make(map[string]*gp.Fit, len(p.cfg.Filters))
	for _, f := range p.cfg.Filters {
		if err := ctx.Err(); err != nil {
			return *out.exclude(lightcurve.GateFitting, "cancelled", f, err)
		}
		fit, err := p.fit(ctx, rec, f)
		if err != nil {
			diagf("object %s: %v", rec.ObjectID, err)
			return *out.exclude(lightcurve.GateFitting, lightcurve.ReasonFitting, f, err)
		}
		fits[f] = fit
	}
	out.Fits = fits
	out.Stage = StageFitted
	p.observe(StageFitted, start)

	// SAMPLED
	var draws map[string][][]float64
	if p.cfg.Draws > 0 {
		start = time.Now()
		draws = p.sample(&out, fits)
		out.Stage = StageSampled
		p.observe(StageSampled, start)
	}

	// NORMALIZED, ALIGNED
	start = time.Now()
	nf, err := align.Normalize(rec.ObjectID, p.cfg.Filters, fits, draws)
	if err != nil {
		diagf("object %s: normalise: %v", rec.ObjectID, err)
		return *out.exclude(lightcurve.GatePeak, lightcurve.ReasonNoPeak, "", err)
	}
	out.Stage = StageNormalized
	if err := nf.Align(); err != nil {
		diagf("object %s: align: %v", rec.ObjectID, err)
		return *out.exclude(lightcurve.GatePeak, lightcurve.ReasonNoPeak, "", err)
	}
	out.Fit = nf
	p.observe(StageAligned, start)

	if err := p.resample.Coverage(nf); err != nil {
		var gr *lightcurve.GateRejection
		if errors.As(err, &gr) {
			diagf("object %s: %v", rec.ObjectID, err)
			return *out.exclude(gr.Gate, gr.Reason, gr.Filter, err)
		}
		return *out.exclude(lightcurve.GateCoverage, lightcurve.ReasonCoverage, "", err)
	}
	out.Stage = StageAligned

	// RESAMPLED
	start = time.Now()
	feat, err := p.resample.Resample(nf)
	if err != nil {
		opsf("object %s: resample after passing coverage: %v", rec.ObjectID, err)
		filter := ""
		var ee *lightcurve.ExtrapolationError
		if errors.As(err, &ee) {
			filter = ee.Filter
		}
		return *out.exclude(lightcurve.GateResample, lightcurve.ReasonExtrapolation, filter, err)
	}
	p.observe(StageResampled, start)

	out.Features = &feat.Mean
	out.DrawFeatures = feat.Draws
	out.Status = StatusIncluded
	out.Stage = StageResampled
	tracef("object %s: included, peak %s at %.3f, %d draw vectors", rec.ObjectID, nf.PeakFilter, nf.PeakEpoch, len(feat.Draws))
	return out
}

// fit returns the cached fit for one filter or computes and caches it. A
// cached fit whose digest differs from the current series and settings is
// stale and gets replaced.
func (p *Pipeline) fit(ctx context.Context, rec *lightcurve.Record, filter string) (*gp.Fit, error) {
	series, _ := rec.Filter(filter)
	if p.cache != nil {
		fit, ok, err := p.cache.Get(ctx, rec.ObjectID, filter, p.cfg.Mode)
		switch {
		case err != nil:
			opsf("object %s filter %s: fit cache read: %v", rec.ObjectID, filter, err)
		case ok && fit.Digest == p.fitter.Digest(series):
			tracef("object %s filter %s: fit cache hit", rec.ObjectID, filter)
			return fit, nil
		case ok:
			diagf("object %s filter %s: cached fit is stale, refitting", rec.ObjectID, filter)
		}
	}

	fit, err := p.fitter.Fit(series)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if err := p.cache.Put(ctx, rec.ObjectID, fit); err != nil {
			opsf("object %s filter %s: fit cache write: %v", rec.ObjectID, filter, err)
		}
	}
	return fit, nil
}

// sample draws posterior curves for every filter. A sampling failure drops
// all draws for the object but leaves the mean fits usable.
func (p *Pipeline) sample(out *Outcome, fits map[string]*gp.Fit) map[string][][]float64 {
	draws := make(map[string][][]float64, len(fits))
	for _, f := range p.cfg.Filters {
		d, err := p.sampler.Draw(fits[f], p.cfg.Draws, p.cfg.Mode)
		out.DrawsAccepted += len(d.Curves)
		out.DrawsRejected += d.Rejected
		if err != nil {
			diagf("object %s: sampling: %v", out.ObjectID, err)
			out.SamplingErr = err
			p.observeDraws(out)
			return nil
		}
		draws[f] = d.Curves
	}
	p.observeDraws(out)
	return draws
}

func (p *Pipeline) observeDraws(out *Outcome) {
	if p.recorder != nil {
		p.recorder.ObserveDraws(out.DrawsAccepted, out.DrawsRejected)
	}
}

func (p *Pipeline) observe(stage Stage, start time.Time) {
	if p.recorder != nil {
		p.recorder.ObserveStage(string(stage), time.Since(start))
	}
}
