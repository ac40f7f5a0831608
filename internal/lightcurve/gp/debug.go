package gp

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/banshee-data/lightcurve.report/internal/monitoring"
)

var logMu sync.RWMutex

var (
	opsLogger   = zerolog.Nop()
	diagLogger  = zerolog.Nop()
	traceLogger = zerolog.Nop()
)

// SetLogWriters configures the three logging streams for the gp package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = monitoring.StreamLogger("gp", ops)
	diagLogger = monitoring.StreamLogger("gp", diag)
	traceLogger = monitoring.StreamLogger("gp", trace)
}

// opsf logs to the ops stream (actionable warnings, failures).
func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	l.Warn().Msgf(format, args...)
}

// diagf logs to the diag stream (per-fit diagnostics).
func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLogger
	logMu.RUnlock()
	l.Info().Msgf(format, args...)
}

// tracef logs to the trace stream (per-draw, per-start telemetry).
func tracef(format string, args ...interface{}) {
	logMu.RLock()
	l := traceLogger
	logMu.RUnlock()
	l.Debug().Msgf(format, args...)
}
