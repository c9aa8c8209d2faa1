package logger

import (
	"context"
	"log/slog"
	"time"
)

// LogRequest logs one handled HTTP request. The level follows the
// response status: 4xx warns, 5xx and handler errors are errors.
func LogRequest(method, path string, status int, duration time.Duration, err error, attrs ...any) {
	level := slog.LevelInfo
	if status >= 500 || err != nil {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelWarn
	}

	base := []any{
		slog.String("type", "http"),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
	}
	base = append(base, attrs...)
	if err != nil {
		base = append(base, slog.String("error", err.Error()))
	}

	msg := "HTTP request processed"
	if err != nil {
		msg = "HTTP request failed"
	}
	slog.Log(context.Background(), level, msg, base...)
}

// LogQuery logs database operations
func LogQuery(query string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "db"),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Query failed", append(attrs,
			slog.String("query", query),
			slog.Any("error", err),
		)...)
	} else {
		slog.Info("Query executed", append(attrs,
			slog.String("query", query),
		)...)
	}
}

// LogSystem logs system events
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
