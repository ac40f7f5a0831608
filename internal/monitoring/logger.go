// Package monitoring provides process-wide logging and metrics plumbing.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the level, encoding and destination of the process logger.
type LogConfig struct {
	Level  string `koanf:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" default:"console" validate:"oneof=json console"`
	Output string `koanf:"output" default:"stderr"` // stdout, stderr, or a file path
}

// base is the root logger. It is a no-op until SetLogger or NewLogger runs so
// library packages stay quiet under test.
var base = zerolog.Nop()

// Logger returns the process logger.
func Logger() zerolog.Logger { return base }

// SetLogger replaces the process logger.
func SetLogger(l zerolog.Logger) { base = l }

// Logf logs a formatted message at info level on the process logger.
func Logf(format string, v ...interface{}) {
	base.Info().Msgf(format, v...)
}

// NewLogger builds a logger from cfg, installs it as the process logger and
// returns it. The returned closer releases a log file, if one was opened.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("could not open log file: %w", err)
		}
		out, closer = f, f
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	base = l
	return l, closer, nil
}

// StreamLogger builds a component logger writing to w, or a no-op logger
// when w is nil. Stage packages use it for their ops/diag/trace streams.
func StreamLogger(component string, w io.Writer) zerolog.Logger {
	if w == nil {
		return zerolog.Nop()
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
