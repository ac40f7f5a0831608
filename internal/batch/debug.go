package batch

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/banshee-data/lightcurve.report/internal/monitoring"
)

var logMu sync.RWMutex

var (
	opsLogger  = zerolog.Nop()
	diagLogger = zerolog.Nop()
)

// SetLogWriters configures the ops and diag streams. Batch has no per-draw
// telemetry, so trace is accepted for symmetry and ignored.
func SetLogWriters(ops, diag, _ io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = monitoring.StreamLogger("batch", ops)
	diagLogger = monitoring.StreamLogger("batch", diag)
}

func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	l.Info().Msgf(format, args...)
}

func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLogger
	logMu.RUnlock()
	l.Info().Msgf(format, args...)
}
