package logging

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts zerolog to Logger. It is used for human-readable
// console output during local development.
type ZerologLogger struct {
	l zerolog.Logger
}

func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

// NewZerologConsole writes colourless console lines to w.
func NewZerologConsole(w io.Writer) *ZerologLogger {
	cw := zerolog.ConsoleWriter{Out: w, NoColor: true}
	return &ZerologLogger{l: zerolog.New(cw).With().Timestamp().Logger().Level(zerolog.DebugLevel)}
}

func (z *ZerologLogger) Debug(_ context.Context, msg string, args ...any) {
	withFields(z.l.Debug(), args).Msg(msg)
}

func (z *ZerologLogger) Info(_ context.Context, msg string, args ...any) {
	withFields(z.l.Info(), args).Msg(msg)
}

func (z *ZerologLogger) Warn(_ context.Context, msg string, args ...any) {
	withFields(z.l.Warn(), args).Msg(msg)
}

func (z *ZerologLogger) Error(_ context.Context, msg string, args ...any) {
	withFields(z.l.Error(), args).Msg(msg)
}

func (z *ZerologLogger) With(args ...any) Logger {
	c := z.l.With()
	for i := 0; i < len(args); i += 2 {
		key, v := keyAt(args, i), valueAt(args, i)
		if err, ok := v.(error); ok {
			c = c.AnErr(key, err)
			continue
		}
		c = c.Interface(key, v)
	}
	return &ZerologLogger{l: c.Logger()}
}

// withFields appends key-value pairs to e. Errors go through AnErr so the
// console shows their text instead of the JSON encoding of the value.
func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, v := keyAt(args, i), valueAt(args, i)
		if err, ok := v.(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, v)
	}
	return e
}

// keyAt mirrors slog's handling of a dangling or non-string key.
func keyAt(args []any, i int) string {
	if s, ok := args[i].(string); ok && i+1 < len(args) {
		return s
	}
	if i+1 >= len(args) {
		return "!BADKEY"
	}
	return fmt.Sprint(args[i])
}

func valueAt(args []any, i int) any {
	if i+1 < len(args) {
		return args[i+1]
	}
	return args[i]
}
