// Package logger sets up JSON slog output tagged with the service name and
// carries per-candle trace IDs through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type ctxKey struct{}

// New returns a JSON logger writing to w.
func New(w io.Writer, service string, level slog.Leveler) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("service", service))
}

// Init builds a stdout logger for service and makes it the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	l := New(os.Stdout, service, level)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps LOG_LEVEL to a slog level. It accepts slog's own syntax
// ("DEBUG", "INFO+2") and "warning"; anything else is info.
func ParseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// GenerateTraceID names one scanned candle: "{exchange:token}/{tf}s/{unix}".
// Redelivery of the same candle yields the same ID.
func GenerateTraceID(key string, tf int, ts time.Time) string {
	return key + "/" + strconv.Itoa(tf) + "s/" + strconv.FormatInt(ts.Unix(), 10)
}

// WithTraceID stores a trace ID in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// TraceID returns the trace ID in ctx, or "".
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// LogWithTrace returns the trace_id attribute for ctx, if any, so callers can
// write slog.Info("msg", append(logger.LogWithTrace(ctx), ...)...).
func LogWithTrace(ctx context.Context) []any {
	if tid := TraceID(ctx); tid != "" {
		return []any{slog.String("trace_id", tid)}
	}
	return nil
}

// FromContext returns l annotated with the trace ID in ctx.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if tid := TraceID(ctx); tid != "" {
		return l.With(slog.String("trace_id", tid))
	}
	return l
}
