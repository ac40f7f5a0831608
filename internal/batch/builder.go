package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/snana"
)

// GateRead marks an object whose light-curve file could not be parsed.
const GateRead lightcurve.Gate = "read"

// Exclusion records why an object is missing from the matrix.
type Exclusion struct {
	ObjectID string          `json:"snid"`
	Source   string          `json:"source,omitempty"`
	Gate     lightcurve.Gate `json:"gate"`
	Reason   string          `json:"reason"`
	Filter   string          `json:"filter,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Run describes one batch.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Config     pipeline.Config
	Sources    int
}

// Sink receives the results of a run once every object has been processed.
type Sink interface {
	BeginRun(ctx context.Context, run Run) error
	WriteOutcome(ctx context.Context, runID string, out *pipeline.Outcome) error
	WriteExclusion(ctx context.Context, runID string, ex Exclusion) error
	EndRun(ctx context.Context, run Run) error
}

// Result is the aggregated output of a run.
type Result struct {
	Run        Run
	Matrix     *DataMatrix
	Exclusions []Exclusion
	Outcomes   []pipeline.Outcome
}

// Builder runs the pipeline over many objects.
type Builder struct {
	Config  pipeline.Config
	Pool    Pool
	Reader  snana.Reader
	Options []pipeline.Option
	Sinks   []Sink
}

// BuildFiles reads and processes every light-curve file in paths.
func (b *Builder) BuildFiles(ctx context.Context, paths []string) (*Result, error) {
	return b.build(ctx, len(paths), func(i int) (string, *lightcurve.Record, error) {
		rec, err := b.Reader.ReadFile(paths[i])
		return paths[i], rec, err
	})
}

// Build processes records already in memory.
func (b *Builder) Build(ctx context.Context, recs []*lightcurve.Record) (*Result, error) {
	return b.build(ctx, len(recs), func(i int) (string, *lightcurve.Record, error) {
		return "", recs[i], nil
	})
}

type task struct {
	index int
	cfg   pipeline.Config
}

type taskResult struct {
	source string
	out    pipeline.Outcome
	rerr   error
}

func (b *Builder) build(ctx context.Context, n int, load func(int) (string, *lightcurve.Record, error)) (*Result, error) {
	// Configuration errors are fatal before any object is touched.
	if _, err := pipeline.New(b.Config, b.Options...); err != nil {
		return nil, err
	}

	run := Run{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Config: b.Config.Clone(), Sources: n}
	opsf("run %s: processing %d objects on %d workers", run.ID, n, b.Pool.size(max(n, 1)))

	tasks := make([]task, n)
	for i := range tasks {
		tasks[i] = task{index: i, cfg: b.Config.Clone()}
	}
	results, err := Map(ctx, b.Pool, tasks, func(ctx context.Context, t task) taskResult {
		source, rec, rerr := load(t.index)
		if rerr != nil {
			return taskResult{source: source, rerr: rerr}
		}
		// Each worker builds its own pipeline from its config snapshot.
		p, err := pipeline.New(t.cfg, b.Options...)
		if err != nil {
			return taskResult{source: source, rerr: err}
		}
		return taskResult{source: source, out: p.Process(ctx, rec)}
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}

	res := &Result{Run: run, Matrix: &DataMatrix{}}
	for _, r := range results {
		if r.rerr != nil {
			diagf("run %s: read %s: %v", run.ID, r.source, r.rerr)
			res.Exclusions = append(res.Exclusions, Exclusion{
				Source: r.source, Gate: GateRead, Reason: "unreadable light curve", Error: r.rerr.Error(),
			})
			continue
		}
		out := r.out
		res.Outcomes = append(res.Outcomes, out)
		if !out.Included() {
			ex := Exclusion{
				ObjectID: out.ObjectID, Source: r.source, Gate: out.Gate, Reason: out.Reason, Filter: out.Filter,
			}
			if out.Err != nil {
				ex.Error = out.Err.Error()
			}
			res.Exclusions = append(res.Exclusions, ex)
			continue
		}
		res.Matrix.Append(out.ObjectID, out.Type, out.Redshift, out.Features.Values)
	}
	res.Run.FinishedAt = time.Now().UTC()
	opsf("run %s: %d included, %d excluded", run.ID, res.Matrix.Len(), len(res.Exclusions))

	if err := b.flush(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// flush hands the aggregated result to every sink.
func (b *Builder) flush(ctx context.Context, res *Result) error {
	var errs []error
	for _, s := range b.Sinks {
		if err := writeSink(ctx, s, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeSink hands one result to s. A failed row does not stop the rest of
// the rows, and a begun run is always ended; every failure is returned.
func writeSink(ctx context.Context, s Sink, res *Result) error {
	if err := s.BeginRun(ctx, res.Run); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	var errs []error
	for i := range res.Outcomes {
		if !res.Outcomes[i].Included() {
			continue
		}
		if err := s.WriteOutcome(ctx, res.Run.ID, &res.Outcomes[i]); err != nil {
			opsf("run %s: write %s: %v", res.Run.ID, res.Outcomes[i].ObjectID, err)
			errs = append(errs, fmt.Errorf("write %s: %w", res.Outcomes[i].ObjectID, err))
		}
	}
	for _, ex := range res.Exclusions {
		if err := s.WriteExclusion(ctx, res.Run.ID, ex); err != nil {
			opsf("run %s: write exclusion %s: %v", res.Run.ID, ex.ObjectID, err)
			errs = append(errs, fmt.Errorf("write exclusion %s: %w", ex.ObjectID, err))
		}
	}
	if err := s.EndRun(ctx, res.Run); err != nil {
		errs = append(errs, fmt.Errorf("end run: %w", err))
	}
	return errors.Join(errs...)
}
