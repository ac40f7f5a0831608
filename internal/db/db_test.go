package db

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/align"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "lc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n == 1
}

func TestOpenDBAppliesPragmas(t *testing.T) {
	t.Parallel()
	db, err := OpenDB(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()
	fsys, err := getMigrationsFS()
	require.NoError(t, err)
	for _, name := range []string{
		"000001_create_runs.up.sql", "000001_create_runs.down.sql",
		"000002_create_gp_fits.up.sql", "000002_create_gp_fits.down.sql",
	} {
		_, err := fsys.Open(name)
		assert.NoError(t, err, name)
	}
}

func TestMigrateUpDown(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	fsys, err := getMigrationsFS()
	require.NoError(t, err)

	v, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, db, "gp_fits"))

	require.NoError(t, db.MigrateDown(fsys))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, tableExists(t, db, "gp_fits"))
	assert.True(t, tableExists(t, db, "runs"))

	// Up again is idempotent after reaching latest.
	require.NoError(t, db.MigrateUp(fsys))
	require.NoError(t, db.MigrateUp(fsys))
	assert.True(t, tableExists(t, db, "gp_fits"))
}

func TestRunMigrateCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
}

func includedOutcome(id string) *pipeline.Outcome {
	return &pipeline.Outcome{
		ObjectID: id,
		Type:     "0",
		Redshift: 0.25,
		Status:   pipeline.StatusIncluded,
		Stage:    pipeline.StageResampled,
		Features: &lightcurve.FeatureVector{
			ObjectID: id,
			Filters:  []string{"g", "r"},
			Bins:     []float64{-1, 0},
			Values:   []float64{0.5, 1, 0.4, 0.9},
		},
		DrawFeatures: []lightcurve.FeatureVector{
			{Values: []float64{0.4, 1, 0.3, 0.8}},
			{Values: []float64{0.6, 1, 0.5, 0.95}},
		},
		Fit: &align.NormalizedFit{ObjectID: id, PeakFilter: "g", PeakEpoch: 55012.5},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := batch.Run{ID: "run-1", StartedAt: start, Config: pipeline.DefaultConfig(), Sources: 3}
	require.NoError(t, db.BeginRun(ctx, run))
	require.NoError(t, db.WriteOutcome(ctx, run.ID, includedOutcome("SN2")))
	require.NoError(t, db.WriteOutcome(ctx, run.ID, includedOutcome("SN1")))
	require.NoError(t, db.WriteOutcome(ctx, run.ID, &pipeline.Outcome{ObjectID: "SN3", Status: pipeline.StatusExcluded}))
	ex := batch.Exclusion{ObjectID: "SN3", Source: "SN3.DAT", Gate: lightcurve.GateCoverage, Reason: lightcurve.ReasonCoverage, Filter: "r"}
	require.NoError(t, db.WriteExclusion(ctx, run.ID, ex))
	run.FinishedAt = start.Add(time.Minute)
	require.NoError(t, db.EndRun(ctx, run))

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	want := []RunSummary{{ID: "run-1", StartedAt: start, FinishedAt: run.FinishedAt, Sources: 3, Included: 2, Excluded: 1}}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("Runs mismatch (-want +got):\n%s", diff)
	}

	rows, err := db.FeatureRows(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SN1", rows[0].SNID)
	assert.Equal(t, FeatureRow{
		RunID: "run-1", SNID: "SN2", Type: "0", Redshift: 0.25,
		PeakFilter: "g", PeakEpoch: 55012.5,
		Filters: []string{"g", "r"}, Bins: []float64{-1, 0}, Values: []float64{0.5, 1, 0.4, 0.9},
		Draws: [][]float64{{0.4, 1, 0.3, 0.8}, {0.6, 1, 0.5, 0.95}},
	}, rows[1])

	exs, err := db.Exclusions(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []batch.Exclusion{ex}, exs)
}

func TestStoreUnknownRun(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.FeatureRows(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = db.Exclusions(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreDuplicateRowFails(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.BeginRun(ctx, batch.Run{ID: "r", StartedAt: time.Now()}))
	require.NoError(t, db.WriteOutcome(ctx, "r", includedOutcome("SN1")))
	assert.Error(t, db.WriteOutcome(ctx, "r", includedOutcome("SN1")))

	// The failed transaction leaves no partial draws behind.
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM draw_rows`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestFitCache(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	cache := NewFitCache(db)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "SN1", "g", gp.ModeOptimize)
	require.NoError(t, err)
	assert.False(t, ok)

	fit := &gp.Fit{
		Filter: "g", Mode: gp.ModeOptimize,
		Grid: []float64{0, 1}, Mean: []float64{1, 2}, Std: []float64{0.1, 0.2},
		Hyper:  gp.Hyperparameters{Amplitude: 2, LengthScale: 5},
		Times:  []float64{0, 1}, Flux: []float64{1, 2}, FluxErr: []float64{0.1, 0.1},
	}
	require.NoError(t, cache.Put(ctx, "SN1", fit))

	got, ok, err := cache.Get(ctx, "SN1", "g", gp.ModeOptimize)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(fit, got); diff != "" {
		t.Errorf("fit mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = cache.Get(ctx, "SN1", "g", gp.ModeMCMC)
	require.NoError(t, err)
	assert.False(t, ok)

	fit.Mean = []float64{3, 4}
	require.NoError(t, cache.Put(ctx, "SN1", fit))
	all, err := cache.Fits(ctx, "SN1", gp.ModeOptimize)
	require.NoError(t, err)
	require.Contains(t, all, "g")
	assert.Equal(t, []float64{3, 4}, all["g"].Mean)

	ids, err := cache.Objects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SN1"}, ids)
}
