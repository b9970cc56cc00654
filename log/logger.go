package log

import "context"

// Logger is the structured logging interface used by broker services.
// Fields must never contain raw token or secret material.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, msg string, err error, fields ...map[string]any)
	With(fields map[string]any) Logger
}
