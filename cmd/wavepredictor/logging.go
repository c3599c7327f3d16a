package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/wavepredictor/boatrace/pkg/config"
)

// newLogger writes to w in the configured format. Unknown or empty levels
// fall back to info.
func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
