// Package logger provides structured logging infrastructure for the rating engine.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// OperatorIDKey is the context key for the operator performing a change
	OperatorIDKey contextKey = "operator_id"
	// TraceIDKey is the context key for trace ID
	TraceIDKey contextKey = "trace_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Development uses the text
// handler at debug level, everything else JSON at info level.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext returns a logger with context values extracted.
// Supports request_id, operator_id, and trace_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if operatorID, ok := ctx.Value(OperatorIDKey).(string); ok && operatorID != "" {
		newLogger = newLogger.WithOperatorID(operatorID)
	}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("trace_id", traceID)),
		}
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithOperatorID returns a logger with operator ID
func (l *Logger) WithOperatorID(operatorID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("operator_id", operatorID)),
	}
}

// WithComponent returns a logger tagged with a component name
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", name)),
	}
}

// RatingChanged logs a rating transition that produced a history row
func (l *Logger) RatingChanged(leadID, from, to, reason string, score float64) {
	l.Info("rating_changed",
		slog.String("lead_id", leadID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
		slog.Float64("score", score),
	)
}

// BatchCompleted logs the outcome of a batch operation
func (l *Logger) BatchCompleted(operation string, total, success, failure int, elapsed time.Duration) {
	level := slog.LevelInfo
	if failure > 0 {
		level = slog.LevelWarn
	}
	l.Log(context.Background(), level, "batch_completed",
		slog.String("operation", operation),
		slog.Int("total", total),
		slog.Int("success", success),
		slog.Int("failure", failure),
		slog.Duration("elapsed", elapsed),
	)
}

// CacheError logs a cache backend failure. Reads that degrade to a miss use
// this at warn level.
func (l *Logger) CacheError(operation, key string, err error) {
	l.Warn("cache_error",
		slog.String("operation", operation),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
