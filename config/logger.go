package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger from LogLevel and LogFormat.
// Unknown levels fall back to info.
func (c *ChatConfig) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "chatrelay").Logger()
}
