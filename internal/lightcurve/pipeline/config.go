package pipeline

import (
	"fmt"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

// Config is the immutable per-run configuration bundle. Workers receive a
// copy; nothing in it is mutated during processing.
type Config struct {
	Filters          []string
	QualityThreshold float64
	MinEpochs        int
	Window           lightcurve.Window
	BinWidth         float64

	Mode gp.Mode
	Grid gp.GridSpec
	MCMC gp.MCMCSettings

	// Draws is the number of posterior draws per filter; 0 disables sampling.
	Draws int
	Seed  uint64
}

// DefaultConfig returns the policy values for everything but the filters.
func DefaultConfig() Config {
	return Config{
		MinEpochs: lightcurve.MinEpochs,
		Window:    lightcurve.Window{Start: -10, End: 10},
		BinWidth:  1,
		Mode:      gp.ModeOptimize,
		Grid:      gp.DefaultGridSpec(),
		MCMC:      gp.DefaultMCMCSettings(),
	}
}

// Validate returns a *lightcurve.ConfigurationError for the first malformed
// setting.
func (c Config) Validate() error {
	if len(c.Filters) == 0 {
		return &lightcurve.ConfigurationError{Field: "filters", Problem: "at least one filter is required"}
	}
	seen := make(map[string]bool, len(c.Filters))
	for _, f := range c.Filters {
		if f == "" {
			return &lightcurve.ConfigurationError{Field: "filters", Problem: "empty filter name"}
		}
		if seen[f] {
			return &lightcurve.ConfigurationError{Field: "filters", Problem: fmt.Sprintf("filter %q listed twice", f)}
		}
		seen[f] = true
	}
	if _, err := c.Window.Bins(c.BinWidth); err != nil {
		return err
	}
	if c.MinEpochs < 0 {
		return &lightcurve.ConfigurationError{Field: "min_epochs", Problem: "must not be negative"}
	}
	if c.Draws < 0 {
		return &lightcurve.ConfigurationError{Field: "n_samples", Problem: "must not be negative"}
	}
	if !(c.Grid.Step > 0) {
		return &lightcurve.ConfigurationError{Field: "grid.step", Problem: fmt.Sprintf("must be positive, got %g", c.Grid.Step)}
	}
	if c.Grid.Extrapolate && c.Grid.Margin < 0 {
		return &lightcurve.ConfigurationError{Field: "grid.margin", Problem: "must not be negative"}
	}
	switch c.Mode {
	case gp.ModeOptimize:
	case gp.ModeMCMC:
		if err := c.MCMC.Validate(); err != nil {
			return &lightcurve.ConfigurationError{Field: "mcmc", Problem: err.Error()}
		}
	default:
		return &lightcurve.ConfigurationError{Field: "fit_mode", Problem: fmt.Sprintf("unknown mode %v", c.Mode)}
	}
	return nil
}

// Gate returns the selection gate for this configuration.
func (c Config) Gate() lightcurve.SelectionGate {
	return lightcurve.SelectionGate{
		Filters:          c.Filters,
		QualityThreshold: c.QualityThreshold,
		MinEpochs:        c.MinEpochs,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c Config) Clone() Config {
	c.Filters = append([]string(nil), c.Filters...)
	return c
}
