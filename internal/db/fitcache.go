package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// FitCache stores GP fits in the gp_fits table.
type FitCache struct {
	db *DB
}

// NewFitCache returns a cache backed by db.
func NewFitCache(db *DB) *FitCache { return &FitCache{db: db} }

// Get returns the cached fit for (objectID, filter, mode).
func (c *FitCache) Get(ctx context.Context, objectID, filter string, mode gp.Mode) (*gp.Fit, bool, error) {
	var body string
	err := c.db.QueryRowContext(ctx,
		`SELECT fit_json FROM gp_fits WHERE snid = ? AND filter = ? AND mode = ?`,
		objectID, filter, mode.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var fit gp.Fit
	if err := json.Unmarshal([]byte(body), &fit); err != nil {
		return nil, false, err
	}
	return &fit, true, nil
}

// Put stores fit, replacing any earlier fit for the same key.
func (c *FitCache) Put(ctx context.Context, objectID string, fit *gp.Fit) error {
	body, err := json.Marshal(fit)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO gp_fits (snid, filter, mode, fit_json, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (snid, filter, mode) DO UPDATE SET fit_json = excluded.fit_json, created_at = excluded.created_at`,
		objectID, fit.Filter, fit.Mode.String(), string(body), time.Now().UnixNano())
	return err
}

// Objects lists object ids with at least one cached fit.
func (c *FitCache) Objects(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT snid FROM gp_fits ORDER BY snid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Fits returns every cached fit of an object in one mode, keyed by filter.
func (c *FitCache) Fits(ctx context.Context, objectID string, mode gp.Mode) (map[string]*gp.Fit, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT filter, fit_json FROM gp_fits WHERE snid = ? AND mode = ?`, objectID, mode.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]*gp.Fit{}
	for rows.Next() {
		var filter, body string
		if err := rows.Scan(&filter, &body); err != nil {
			return nil, err
		}
		var fit gp.Fit
		if err := json.Unmarshal([]byte(body), &fit); err != nil {
			return nil, err
		}
		out[filter] = &fit
	}
	return out, rows.Err()
}
