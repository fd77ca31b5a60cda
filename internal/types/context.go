package types

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	cycleIDKey   contextKey = "cycle_id"
	jobIDKey     contextKey = "job_id"
	requestIDKey contextKey = "request_id"
)

// WithCycleID stores the re-plan cycle ID in the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// GetCycleID retrieves the re-plan cycle ID from the context.
func GetCycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey).(string)
	return id
}

// WithJobID stores the planned job ID in the context.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// GetJobID retrieves the planned job ID from the context.
func GetJobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// WithRequestID stores the status API request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the status API request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// LogAttrs returns the correlation attributes carried by ctx, ready to be
// passed to a slog call.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := GetCycleID(ctx); id != "" {
		attrs = append(attrs, slog.String("cycle_id", id))
	}
	if id := GetJobID(ctx); id != "" {
		attrs = append(attrs, slog.String("job_id", id))
	}
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	return attrs
}
