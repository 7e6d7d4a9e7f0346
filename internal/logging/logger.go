// Package logging defines a minimal structured-logging interface used across
// storeauth, with slog (JSON, production) and zerolog (console, local) backends.
package logging

import (
	"context"
	"io"
	"os"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "session created", "user_id", id, "ip", ip)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}

// Output formats accepted by New.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds the logger selected by format, writing to stdout.
// Unknown formats fall back to JSON.
func New(format string) Logger {
	return newWithWriter(format, os.Stdout)
}

func newWithWriter(format string, w io.Writer) Logger {
	if format == FormatConsole {
		return NewZerologConsole(w)
	}
	return NewSlogJSON(w)
}

// Nop discards everything. Handy in tests and for optional components.
type Nop struct{}

func (Nop) Debug(context.Context, string, ...any) {}
func (Nop) Info(context.Context, string, ...any)  {}
func (Nop) Warn(context.Context, string, ...any)  {}
func (Nop) Error(context.Context, string, ...any) {}
func (n Nop) With(...any) Logger                 { return n }
