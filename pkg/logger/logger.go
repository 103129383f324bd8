// Package logger provides structured logging for the ad bridge
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is attached to every log line
const ServiceName = "adbridge"

type contextKey string

const (
	// RequestIDKey carries the transport request ID
	RequestIDKey contextKey = "request_id"
	// ControllerIDKey carries the ad controller (channel) ID
	ControllerIDKey contextKey = "controller_id"
)

// Log is the global logger
var Log = newLogger(os.Stdout)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
	Output     io.Writer // stdout when nil
}

// DefaultConfig reads LOG_LEVEL and LOG_FORMAT
func DefaultConfig() Config {
	cfg := Config{Level: "info", Format: "json", TimeFormat: time.RFC3339}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	return cfg
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat, NoColor: cfg.Output != nil}
	}
	Log = newLogger(out)
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("service", ServiceName).Logger()
}

// WithRequestID stores a request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithControllerID stores a controller ID in the context
func WithControllerID(ctx context.Context, controllerID string) context.Context {
	return context.WithValue(ctx, ControllerIDKey, controllerID)
}

// FromContext returns a logger carrying the IDs found in ctx
func FromContext(ctx context.Context) *zerolog.Logger {
	c := Log.With()
	for _, key := range []contextKey{RequestIDKey, ControllerIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			c = c.Str(string(key), v)
		}
	}
	l := c.Logger()
	return &l
}

func component(name string) zerolog.Context {
	return Log.With().Str("component", name)
}

// Controller returns a logger for one ad controller
func Controller(format, id string) *zerolog.Logger {
	l := component("controller").Str("format", format).Str(string(ControllerIDKey), id).Logger()
	return &l
}

// Channel returns a logger for one message channel
func Channel(name string) *zerolog.Logger {
	l := component("channel").Str("channel", name).Logger()
	return &l
}

// Exchange returns a logger for the OpenRTB ad source
func Exchange() *zerolog.Logger {
	l := component("exchange").Logger()
	return &l
}
