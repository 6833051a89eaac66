package store

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// RequestLogEntry is one external-facing operation's outcome, written as
// a single JSON line (§6).
type RequestLogEntry struct {
	Operation string        `json:"operation"`
	URI       string        `json:"uri,omitempty"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration_ms"`
	TraceID   string        `json:"trace_id"`
}

// RequestLogger appends RequestLogEntry records as JSONL. It wraps
// zerolog directly rather than hand-rolling a JSON line writer, since
// zerolog already emits exactly one compact JSON object per Write call.
type RequestLogger struct {
	logger zerolog.Logger
	closer io.Closer
}

// OpenRequestLog opens (creating if absent) the JSONL file at path for
// appending.
func OpenRequestLog(path string) (*RequestLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &RequestLogger{
		logger: zerolog.New(f).With().Timestamp().Logger(),
		closer: f,
	}, nil
}

// Log writes one request-log entry.
func (r *RequestLogger) Log(entry RequestLogEntry) {
	r.logger.Log().
		Str("operation", entry.Operation).
		Str("uri", entry.URI).
		Str("outcome", entry.Outcome).
		Dur("duration_ms", entry.Duration).
		Str("trace_id", entry.TraceID).
		Send()
}

// Close closes the underlying file.
func (r *RequestLogger) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
