// Package fitcache holds pipeline.FitCache implementations that sit in
// front of, or instead of, the SQLite gp_fits table.
package fitcache

import (
	"context"
	"sync"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// Key identifies one cached fit.
func Key(objectID, filter string, mode gp.Mode) string {
	return objectID + ":" + filter + ":" + mode.String()
}

// Memory is an in-process cache. Stored fits are shared, not copied, so
// callers must not mutate a fit after Put or Get.
type Memory struct {
	mu   sync.RWMutex
	fits map[string]*gp.Fit
}

func NewMemory() *Memory {
	return &Memory{fits: make(map[string]*gp.Fit)}
}

func (m *Memory) Get(_ context.Context, objectID, filter string, mode gp.Mode) (*gp.Fit, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fit, ok := m.fits[Key(objectID, filter, mode)]
	return fit, ok, nil
}

func (m *Memory) Put(_ context.Context, objectID string, fit *gp.Fit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fits[Key(objectID, fit.Filter, fit.Mode)] = fit
	return nil
}

// Len returns the number of cached fits.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fits)
}
