// Package logging builds the zerolog loggers used across the recording pipeline.
// Deployed functions log JSON to stdout so Cloud Logging can parse the fields;
// the operator CLI logs human-readable console output.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field names shared by every component so log queries stay uniform.
const (
	FieldRecordingID = "recordingId"
	FieldUserID      = "userId"
	FieldProvider    = "provider"
	FieldStage       = "stage"
	FieldJobID       = "jobId"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string

	// Service is attached to every entry as "service".
	Service string

	// JSON enables JSON output; otherwise a console writer is used.
	JSON bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// New creates a zerolog.Logger from cfg.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "recordingflow"
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForRecording scopes a logger to one recording.
func ForRecording(l zerolog.Logger, recordingID string) zerolog.Logger {
	return l.With().Str(FieldRecordingID, recordingID).Logger()
}

// ForStage scopes a logger to one pipeline stage of a recording.
func ForStage(l zerolog.Logger, recordingID, stage string) zerolog.Logger {
	return l.With().Str(FieldRecordingID, recordingID).Str(FieldStage, stage).Logger()
}

// Nop returns a logger that discards everything. Used by tests and as the
// zero-value fallback for components built without a logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
