package publish

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

func SetLogWriters(ops, diag, _ io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = monitoring.StreamLogger("publish", ops)
	diagLogger = monitoring.StreamLogger("publish", diag)
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
	l.Debug().Msgf(format, args...)
}
