// Package logging defines the structured-logging interface the rest of the
// project codes against, decoupled from any particular logging backend.
package logging

import "context"

// Logger is a context-aware, structured logger. The variadic args are
// alternating key-value pairs:
//
//	log.Warn(ctx, "encryption unavailable", "key", key, "err", err)
type Logger interface {
	// Info logs a routine informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs an unusual but non-fatal condition.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs a failure.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}
