package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
)

func TestMapPreservesOrderAndBoundsWorkers(t *testing.T) {
	t.Parallel()

	var running, peak int32
	tasks := make([]int, 50)
	for i := range tasks {
		tasks[i] = i
	}
	out, err := Map(context.Background(), Pool{Workers: 3}, tasks, func(_ context.Context, v int) int {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&running, -1)
		return v * v
	})
	require.NoError(t, err)
	for i, v := range out {
		if v != i*i {
			t.Fatalf("result %d = %d, want %d", i, v, i*i)
		}
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))

	empty, err := Map(context.Background(), Pool{}, []int(nil), func(context.Context, int) int { return 1 })
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMapCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Map(ctx, Pool{Workers: 2}, []int{1, 2, 3}, func(context.Context, int) int { return 0 })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDataMatrixText(t *testing.T) {
	t.Parallel()

	m := &DataMatrix{}
	m.Append("001", "Ia", 0.25, []float64{0.5, 1, 0.75})
	m.Append("002", "II", 0.1, []float64{0.1, 0.2, 0.3})

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "SNID    type    z   LC...", string(lines[0]))
	assert.Equal(t, "001    Ia    0.25    0.5    1    0.75", string(lines[1]))

	back, err := ReadMatrix(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(m, back); diff != "" {
		t.Errorf("matrix changed through text form (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "matrix.dat")
	require.NoError(t, m.WriteFile(path))
	fromFile, err := ReadMatrixFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.SNID, fromFile.SNID)

	m.Append("003", "Ib", 0.3, []float64{1})
	_, err = m.Dense()
	assert.Error(t, err, "ragged rows")
}

func TestPCAProjectsOntoDominantDirection(t *testing.T) {
	t.Parallel()

	// Points on the line y = 2x.
	rows := mat.NewDense(4, 2, []float64{
		1, 2,
		2, 4,
		3, 6,
		4, 8,
	})
	p := &PCA{Components: 1}
	require.NoError(t, p.Fit(rows))
	z, err := p.Transform(rows)
	require.NoError(t, err)

	r, c := z.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 1, c)
	// Spacing along the line is sqrt(5) per step, up to sign.
	step := z.At(1, 0) - z.At(0, 0)
	assert.InDelta(t, 2.2360679, abs(step), 1e-6)
	assert.InDelta(t, 0, z.At(0, 0)+z.At(3, 0), 1e-9, "projection is centred")

	_, err = (&PCA{Components: 1}).Transform(rows)
	assert.ErrorIs(t, err, errNotFitted)
	assert.Error(t, (&PCA{Components: 3}).Fit(rows))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestBinaryMapper(t *testing.T) {
	t.Parallel()

	got := BinaryMapper{Positive: "0"}.MapTypes([]string{"0", "22", "0", "33"})
	assert.Equal(t, []string{"Ia", "nonIa", "Ia", "nonIa"}, got)
}

type scoreByTrial struct{}

func (scoreByTrial) Validate(_ context.Context, _ *DataMatrix, trial int) (Trial, error) {
	if trial == 2 {
		return Trial{}, errors.New("boom")
	}
	return Trial{Params: map[string]float64{"k": float64(trial)}, Score: float64((trial * 7) % 5)}, nil
}

func TestCrossValidatePicksMaximum(t *testing.T) {
	t.Parallel()

	best, all, err := CrossValidate(context.Background(), Pool{Workers: 2}, &DataMatrix{}, scoreByTrial{}, nil, 5)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	// scores: 0→0, 1→2, 3→1, 4→3
	assert.Equal(t, 4, best.Index)
	assert.Equal(t, 3.0, best.Score)

	_, _, err = CrossValidate(context.Background(), Pool{}, &DataMatrix{}, scoreByTrial{}, nil, 0)
	assert.Error(t, err)
}

func clusteredMatrix() *DataMatrix {
	m := &DataMatrix{}
	for i := 0; i < 10; i++ {
		d := float64(i) * 0.01
		m.Append(fmt.Sprintf("a%d", i), "0", 0.1, []float64{1 + d, 1 - d, 0.9, 0.1})
		m.Append(fmt.Sprintf("b%d", i), "22", 0.2, []float64{-1 - d, -1 + d, 0.1, 0.9})
	}
	return m
}

func TestPCANearestNeighbourSeparatesClusters(t *testing.T) {
	t.Parallel()

	cv := PCANearestNeighbour{Components: []int{1, 2}, TestFraction: 0.3, Seed: 42}
	best, all, err := CrossValidate(context.Background(), Pool{Workers: 4}, clusteredMatrix(), cv, BinaryMapper{Positive: "0"}, 6)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, 1.0, best.Score)
	assert.Contains(t, []float64{1, 2}, best.Params["ncomp"])

	again, err := cv.Validate(context.Background(), clusteredMatrix(), best.Index)
	require.NoError(t, err)
	assert.Equal(t, best.Params, again.Params, "trials are reproducible")
}

func makeSeries(filter string, times, flux []float64) lightcurve.FilterSeries {
	s := lightcurve.FilterSeries{Filter: filter}
	for i := range times {
		s.Observations = append(s.Observations, lightcurve.Observation{Time: times[i], Flux: flux[i], FluxErr: 0.01, Quality: 20})
	}
	return s
}

type recordingSink struct {
	mu         sync.Mutex
	runs       []string
	outcomes   []string
	exclusions []Exclusion
	ended      bool
}

func (s *recordingSink) BeginRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run.ID)
	return nil
}

func (s *recordingSink) WriteOutcome(_ context.Context, _ string, out *pipeline.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out.ObjectID)
	return nil
}

func (s *recordingSink) WriteExclusion(_ context.Context, _ string, ex Exclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exclusions = append(s.exclusions, ex)
	return nil
}

func (s *recordingSink) EndRun(context.Context, Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return nil
}

// rejectingSink fails WriteOutcome for one object, as a duplicate key would.
type rejectingSink struct {
	recordingSink
	reject string
}

func (s *rejectingSink) WriteOutcome(ctx context.Context, runID string, out *pipeline.Outcome) error {
	if out.ObjectID == s.reject {
		return errors.New("UNIQUE constraint failed: feature_rows.snid")
	}
	return s.recordingSink.WriteOutcome(ctx, runID, out)
}

func TestBuilderBuild(t *testing.T) {
	t.Parallel()

	cfg := pipeline.DefaultConfig()
	cfg.Filters = []string{"r"}
	cfg.Window = lightcurve.Window{Start: -5, End: 5}

	good := &lightcurve.Record{ObjectID: "good", Type: "0", Redshift: 0.2, Series: map[string]lightcurve.FilterSeries{
		"r": makeSeries("r", []float64{0, 10, 20, 30, 40}, []float64{1, 5, 9, 7, 3}),
	}}
	sparse := &lightcurve.Record{ObjectID: "sparse", Series: map[string]lightcurve.FilterSeries{
		"r": makeSeries("r", []float64{0, 10}, []float64{1, 5}),
	}}
	missing := &lightcurve.Record{ObjectID: "missing", Series: map[string]lightcurve.FilterSeries{
		"g": makeSeries("g", []float64{0, 10, 20}, []float64{1, 5, 2}),
	}}

	sink := &recordingSink{}
	b := &Builder{Config: cfg, Pool: Pool{Workers: 2}, Sinks: []Sink{sink}}
	res, err := b.Build(context.Background(), []*lightcurve.Record{good, sparse, missing})
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, res.Matrix.SNID)
	assert.Equal(t, []string{"0"}, res.Matrix.Types)
	assert.Len(t, res.Matrix.Rows[0], 10)
	require.Len(t, res.Exclusions, 2)
	assert.Equal(t, "sparse", res.Exclusions[0].ObjectID)
	assert.Equal(t, lightcurve.ReasonInsufficientEpochs, res.Exclusions[0].Reason)
	assert.Equal(t, lightcurve.ReasonMissingFilter, res.Exclusions[1].Reason)

	assert.Equal(t, []string{res.Run.ID}, sink.runs)
	assert.Equal(t, []string{"good"}, sink.outcomes)
	assert.Len(t, sink.exclusions, 2)
	assert.True(t, sink.ended)
}

func TestBuilderBadConfigIsFatal(t *testing.T) {
	t.Parallel()

	cfg := pipeline.DefaultConfig()
	cfg.Filters = []string{"r"}
	cfg.BinWidth = -1
	_, err := (&Builder{Config: cfg}).Build(context.Background(), nil)
	assert.True(t, lightcurve.IsConfigurationError(err))
}

func TestBuilderUnreadableFile(t *testing.T) {
	t.Parallel()

	cfg := pipeline.DefaultConfig()
	cfg.Filters = []string{"r"}
	res, err := (&Builder{Config: cfg}).BuildFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope.DAT")})
	require.NoError(t, err)
	require.Len(t, res.Exclusions, 1)
	assert.Equal(t, GateRead, res.Exclusions[0].Gate)
	assert.Zero(t, res.Matrix.Len())
}

func TestBuilderSinkFailureKeepsWriting(t *testing.T) {
	t.Parallel()

	cfg := pipeline.DefaultConfig()
	cfg.Filters = []string{"r"}
	cfg.Window = lightcurve.Window{Start: -5, End: 5}

	peak := func(id string) *lightcurve.Record {
		return &lightcurve.Record{ObjectID: id, Series: map[string]lightcurve.FilterSeries{
			"r": makeSeries("r", []float64{0, 10, 20, 30, 40}, []float64{1, 5, 9, 7, 3}),
		}}
	}
	sparse := &lightcurve.Record{ObjectID: "sparse", Series: map[string]lightcurve.FilterSeries{
		"r": makeSeries("r", []float64{0, 10}, []float64{1, 5}),
	}}

	sink := &rejectingSink{reject: "first"}
	b := &Builder{Config: cfg, Pool: Pool{Workers: 1}, Sinks: []Sink{sink}}
	res, err := b.Build(context.Background(), []*lightcurve.Record{peak("first"), peak("second"), sparse})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write first")
	require.NotNil(t, res)

	assert.Equal(t, []string{"second"}, sink.outcomes)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "sparse", sink.exclusions[0].ObjectID)
	assert.True(t, sink.ended)
}
