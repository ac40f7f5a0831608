package lightcurve

import (
	"errors"
	"fmt"
)

// Gate identifies which stage rejected an object.
type Gate string

const (
	GateBasicCuts Gate = "basic_cuts"
	GateFitting   Gate = "fitting"
	GatePeak      Gate = "peak"
	GateCoverage  Gate = "epoch_coverage"
	GateResample  Gate = "resample"
)

// Rejection reasons recorded with a GateRejection.
const (
	ReasonMissingFilter      = "missing filter"
	ReasonInsufficientEpochs = "insufficient epochs"
	ReasonFitting            = "fitting error"
	ReasonNoPeak             = "no peak"
	ReasonCoverage           = "epoch coverage"
	ReasonExtrapolation      = "extrapolation"
)

// GateRejection marks an object that does not meet a selection criterion.
// It is expected and non-fatal: the object is recorded and skipped.
type GateRejection struct {
	Gate   Gate
	Reason string
	Filter string
}

func (e *GateRejection) Error() string {
	if e.Filter != "" {
		return fmt.Sprintf("%s rejected: %s (filter %s)", e.Gate, e.Reason, e.Filter)
	}
	return fmt.Sprintf("%s rejected: %s", e.Gate, e.Reason)
}

// FittingError reports a GP fit that had insufficient data or did not
// converge. The pipeline treats it as a gate rejection.
type FittingError struct {
	Filter string
	Err    error
}

func (e *FittingError) Error() string {
	return fmt.Sprintf("gp fit failed for filter %s: %v", e.Filter, e.Err)
}

func (e *FittingError) Unwrap() error { return e.Err }

// InsufficientSamplesError reports a posterior chain exhausted before the
// requested number of draws was accepted. Only sampling fails; the mean fit
// remains usable.
type InsufficientSamplesError struct {
	Filter    string
	Requested int
	Accepted  int
	ChainLen  int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("filter %s: accepted %d of %d requested draws after exhausting %d chain samples",
		e.Filter, e.Accepted, e.Requested, e.ChainLen)
}

// ExtrapolationError reports an interpolant evaluated outside its validated
// range. It indicates a coverage-check/resample inconsistency.
type ExtrapolationError struct {
	Filter string
	X      float64
	Min    float64
	Max    float64
}

func (e *ExtrapolationError) Error() string {
	return fmt.Sprintf("filter %s: epoch %g outside interpolation range [%g, %g]", e.Filter, e.X, e.Min, e.Max)
}

// ConfigurationError reports a malformed window, bin or filter setting. It is
// fatal at batch start and never produced per object.
type ConfigurationError struct {
	Field   string
	Problem string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Problem)
}

// ErrNoPeakFound is returned when no filter attains the normalised maximum.
var ErrNoPeakFound = errors.New("no filter attains the normalised peak")

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
