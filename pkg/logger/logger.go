// Package logger builds the zerolog.Logger used throughout farmd. Its
// construction contract (Config{Level, Pretty} -> zerolog.Logger) is
// reconstructed from the composition root's usage rather than copied
// from a single source file — see DESIGN.md for the grounding trail.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's verbosity and output format.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Pretty bool   // human-readable console output instead of JSON
}

// New builds a zerolog.Logger writing to stderr, at the level named by
// cfg.Level (defaulting to info on an unrecognized name).
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer = os.Stderr
	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()

	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).Level(level).With().Timestamp().Logger()
	}

	return logger
}
