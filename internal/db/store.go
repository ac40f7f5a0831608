package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID         string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Sources    int       `json:"sources"`
	Included   int       `json:"included"`
	Excluded   int       `json:"excluded"`
}

// FeatureRow is one stored object of a run.
type FeatureRow struct {
	RunID      string      `json:"run_id"`
	SNID       string      `json:"snid"`
	Type       string      `json:"type"`
	Redshift   float64     `json:"redshift"`
	PeakFilter string      `json:"peak_filter"`
	PeakEpoch  float64     `json:"peak_epoch"`
	Filters    []string    `json:"filters"`
	Bins       []float64   `json:"bins"`
	Values     []float64   `json:"values"`
	Draws      [][]float64 `json:"draws,omitempty"`
}

// BeginRun implements batch.Sink.
func (db *DB) BeginRun(ctx context.Context, run batch.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, sources, config_json) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.Sources, string(cfg))
	return err
}

// EndRun implements batch.Sink.
func (db *DB) EndRun(ctx context.Context, run batch.Run) error {
	_, err := db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE run_id = ?`, run.FinishedAt.UnixNano(), run.ID)
	return err
}

// WriteOutcome implements batch.Sink. Only included outcomes are stored.
func (db *DB) WriteOutcome(ctx context.Context, runID string, out *pipeline.Outcome) error {
	if !out.Included() {
		return nil
	}
	row := FeatureRow{
		RunID:    runID,
		SNID:     out.ObjectID,
		Type:     out.Type,
		Redshift: out.Redshift,
		Filters:  out.Features.Filters,
		Bins:     out.Features.Bins,
		Values:   out.Features.Values,
	}
	if out.Fit != nil {
		row.PeakFilter, row.PeakEpoch = out.Fit.PeakFilter, out.Fit.PeakEpoch
	}
	for _, d := range out.DrawFeatures {
		row.Draws = append(row.Draws, d.Values)
	}
	return db.InsertFeatureRow(ctx, row)
}

// InsertFeatureRow stores one row and its draws in a transaction.
func (db *DB) InsertFeatureRow(ctx context.Context, row FeatureRow) error {
	filters, _ := json.Marshal(row.Filters)
	bins, _ := json.Marshal(row.Bins)
	values, _ := json.Marshal(row.Values)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO feature_rows
		(run_id, snid, sn_type, redshift, peak_filter, peak_epoch, filters_json, bins_json, values_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.SNID, row.Type, row.Redshift, row.PeakFilter, row.PeakEpoch,
		string(filters), string(bins), string(values)); err != nil {
		return fmt.Errorf("insert feature row %s: %w", row.SNID, err)
	}
	for i, d := range row.Draws {
		b, _ := json.Marshal(d)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO draw_rows (run_id, snid, draw_index, values_json) VALUES (?, ?, ?, ?)`,
			row.RunID, row.SNID, i, string(b)); err != nil {
			return fmt.Errorf("insert draw %d of %s: %w", i, row.SNID, err)
		}
	}
	return tx.Commit()
}

// WriteExclusion implements batch.Sink.
func (db *DB) WriteExclusion(ctx context.Context, runID string, ex batch.Exclusion) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO exclusions (run_id, snid, source, gate, reason, filter, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, ex.ObjectID, ex.Source, string(ex.Gate), ex.Reason, ex.Filter, ex.Error)
	return err
}

// Runs lists runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := db.QueryContext(ctx, `SELECT r.run_id, r.started_at, COALESCE(r.finished_at, 0), r.sources,
			(SELECT COUNT(*) FROM feature_rows f WHERE f.run_id = r.run_id),
			(SELECT COUNT(*) FROM exclusions e WHERE e.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s                 RunSummary
			started, finished int64
		)
		if err := rows.Scan(&s.ID, &started, &finished, &s.Sources, &s.Included, &s.Excluded); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started).UTC()
		if finished > 0 {
			s.FinishedAt = time.Unix(0, finished).UTC()
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) runExists(ctx context.Context, runID string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE run_id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotFound
	}
	return err
}

// FeatureRows returns a run's rows, with draws, ordered by object id.
func (db *DB) FeatureRows(ctx context.Context, runID string) ([]FeatureRow, error) {
	if err := db.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT snid, sn_type, redshift, peak_filter, peak_epoch, filters_json, bins_json, values_json
		FROM feature_rows WHERE run_id = ? ORDER BY snid`, runID)
	if err != nil {
		return nil, err
	}
	var out []FeatureRow
	for rows.Next() {
		r := FeatureRow{RunID: runID}
		var filters, bins, values string
		if err := rows.Scan(&r.SNID, &r.Type, &r.Redshift, &r.PeakFilter, &r.PeakEpoch, &filters, &bins, &values); err != nil {
			rows.Close()
			return nil, err
		}
		if err := decodeAll([]string{filters, bins, values}, &r.Filters, &r.Bins, &r.Values); err != nil {
			rows.Close()
			return nil, fmt.Errorf("row %s: %w", r.SNID, err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Draws are read after closing the row cursor: the pool has one connection.
	for i := range out {
		if out[i].Draws, err = db.draws(ctx, runID, out[i].SNID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) draws(ctx context.Context, runID, snid string) ([][]float64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT values_json FROM draw_rows WHERE run_id = ? AND snid = ? ORDER BY draw_index`, runID, snid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]float64
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		var d []float64
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Exclusions returns a run's exclusions in insertion order.
func (db *DB) Exclusions(ctx context.Context, runID string) ([]batch.Exclusion, error) {
	if err := db.runExists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT snid, source, gate, reason, filter, error FROM exclusions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []batch.Exclusion
	for rows.Next() {
		var ex batch.Exclusion
		var gate string
		if err := rows.Scan(&ex.ObjectID, &ex.Source, &gate, &ex.Reason, &ex.Filter, &ex.Error); err != nil {
			return nil, err
		}
		ex.Gate = lightcurve.Gate(gate)
		out = append(out, ex)
	}
	return out, rows.Err()
}

func decodeAll(src []string, dst ...interface{}) error {
	for i, s := range src {
		if err := json.Unmarshal([]byte(s), dst[i]); err != nil {
			return err
		}
	}
	return nil
}
