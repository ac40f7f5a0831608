package fitcache

import (
	"context"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
)

// Layered reads through an in-memory L1 to a shared L2 and writes through
// both. L2 errors on Get are returned; a miss in both is not an error.
type Layered struct {
	l1 *Memory
	l2 pipeline.FitCache
}

func NewLayered(l2 pipeline.FitCache) *Layered {
	return &Layered{l1: NewMemory(), l2: l2}
}

func (c *Layered) Get(ctx context.Context, objectID, filter string, mode gp.Mode) (*gp.Fit, bool, error) {
	if fit, ok, _ := c.l1.Get(ctx, objectID, filter, mode); ok {
		return fit, true, nil
	}
	fit, ok, err := c.l2.Get(ctx, objectID, filter, mode)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.l1.Put(ctx, objectID, fit)
	return fit, true, nil
}

func (c *Layered) Put(ctx context.Context, objectID string, fit *gp.Fit) error {
	if err := c.l2.Put(ctx, objectID, fit); err != nil {
		return err
	}
	return c.l1.Put(ctx, objectID, fit)
}
