// Package logging configures zerolog for the service and builds the
// context loggers used on the session path.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
	Service    string
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter is Init with an explicit sink.
func InitWithWriter(cfg Config, out io.Writer) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	lc := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		lc = lc.Str("service", cfg.Service)
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		lc = lc.Caller()
	}
	log.Logger = lc.Logger()
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// WithSession tags a logger with the live session.
func WithSession(sessionID, tenantID string) zerolog.Logger {
	return log.With().Str("sessionId", sessionID).Str("tenantId", tenantID).Logger()
}

// WithInteraction tags a logger with a dispatched interaction.
func WithInteraction(interactionID, tenantID string) zerolog.Logger {
	return log.With().Str("interactionId", interactionID).Str("tenantId", tenantID).Logger()
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
