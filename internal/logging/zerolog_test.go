package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZerologConsole_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologConsole(&buf)

	log.With("module", "otp").Warn(context.Background(), "rate limited", "user_id", 42)

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "rate limited")
	assert.Contains(t, out, "module=otp")
	assert.Contains(t, out, "user_id=42")
}

func TestZerologConsole_DanglingKey(t *testing.T) {
	var buf bytes.Buffer
	NewZerologConsole(&buf).Info(context.Background(), "odd", "lonely")
	assert.Contains(t, buf.String(), "!BADKEY=lonely")
}

func TestNew_SelectsBackend(t *testing.T) {
	var buf bytes.Buffer
	_, ok := newWithWriter(FormatConsole, &buf).(*ZerologLogger)
	assert.True(t, ok)

	_, ok = newWithWriter("json", &buf).(*SlogLogger)
	assert.True(t, ok)

	_, ok = newWithWriter("", &buf).(*SlogLogger)
	assert.True(t, ok)
}

func TestNop_DoesNothing(t *testing.T) {
	var l Logger = Nop{}
	l.With("a", 1).Info(context.Background(), "x")
}

func TestZerologConsole_ErrorText(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologConsole(&buf)
	cause := fmt.Errorf("db error: %w", errors.New("connection refused"))

	log.Warn(context.Background(), "attempt count failed", "error", cause)
	log.With("last_error", cause).Error(context.Background(), "retention step failed")

	out := buf.String()
	assert.Contains(t, out, "attempt count failed")
	assert.Contains(t, out, "db error: connection refused")
	assert.Contains(t, out, "last_error=")
	assert.NotContains(t, out, "{}")
	assert.Equal(t, 2, strings.Count(out, "connection refused"))
}
