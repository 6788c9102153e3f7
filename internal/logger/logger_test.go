package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.False(t, Enabled(slog.LevelInfo))
	assert.True(t, Enabled(slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestWithCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	With("session", "s-1").Info("bar processed")
	assert.Contains(t, buf.String(), "session=s-1")
}

func TestAuditWriter(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, AuditEnabled())
	SetAuditWriter(&buf)
	t.Cleanup(func() { SetAuditWriter(nil) })

	assert.True(t, AuditEnabled())
	Audit("bar", "abc", AuditField{Key: "undefined", Value: "sma_20 rsi"}, AuditField{Key: "index", Value: "3"})
	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "[AUDIT] bar session=abc")
	assert.Contains(t, line, `undefined="sma_20 rsi"`)
	assert.Contains(t, line, "index=3")
}
