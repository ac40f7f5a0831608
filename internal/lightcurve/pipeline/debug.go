package pipeline

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

// SetLogWriters configures the ops, diag and trace streams. A nil writer
// disables that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = monitoring.StreamLogger("pipeline", ops)
	diagLogger = monitoring.StreamLogger("pipeline", diag)
	traceLogger = monitoring.StreamLogger("pipeline", trace)
}

func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	l.Warn().Msgf(format, args...)
}

func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLogger
	logMu.RUnlock()
	l.Info().Msgf(format, args...)
}

func tracef(format string, args ...interface{}) {
	logMu.RLock()
	l := traceLogger
	logMu.RUnlock()
	l.Debug().Msgf(format, args...)
}
