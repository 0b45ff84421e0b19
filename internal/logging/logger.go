// Package logging provides structured logging with trace ID propagation.
// It wraps Go's built-in log/slog with proxy-specific helpers: a per-request
// trace ID injected via middleware and extracted from context, and a Setup
// keyed to the config verbose flag so debug dumps of shaped payloads follow
// the same switch the rest of the proxy uses.
package logging

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Logger is the package-level structured logger. Callers should prefer
// FromContext(ctx) to automatically attach the request trace ID.
var Logger *slog.Logger

func init() {
	Setup(false, os.Getenv("LOG_FORMAT"))
}

// Setup (re-)initialises the package logger. verbose raises the level from
// info to debug. format is "json" or "text"; text is the default so console
// output stays readable for operators tailing the proxy directly.
func Setup(verbose bool, format string) {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// NewTraceID generates a random 32-char hex trace ID.
func NewTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext retrieves the trace ID stored in the context.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// FromContext returns a *slog.Logger pre-annotated with the trace_id from ctx.
func FromContext(ctx context.Context) *slog.Logger {
	if id := TraceIDFromContext(ctx); id != "" {
		return Logger.With("trace_id", id)
	}
	return Logger
}

// Middleware injects a trace ID into every request context and echoes it in
// the X-Request-ID response header. Uses the incoming X-Request-ID header if
// present, otherwise generates a new one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = NewTraceID()
		}
		ctx := WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Request-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
