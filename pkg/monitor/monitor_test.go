package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCustomHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithSessionID(context.Background(), "sess-1")
	logger.With("mode", "text-chat").InfoContext(ctx, "Webhook reply", "status", 200)

	line := buf.String()
	assert.Contains(t, line, "[INFO] [sess-1] Webhook reply")
	assert.Contains(t, line, `mode="text-chat"`)
	assert.Contains(t, line, "status=200")
}

func TestCustomHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: ParseLevel("warn")}))

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestCLIMonitorRendersRoles(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitorWriter(&buf)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m.OnMessage(MonitorMessage{Timestamp: now, Role: "user", Surface: "web", SessionID: "0123456789abcdef", Content: "hello"})
	m.OnMessage(MonitorMessage{Timestamp: now, Role: "assistant", Mode: "text-chat", Content: "hi", Fallback: true})
	m.OnMessage(MonitorMessage{Timestamp: now, Role: "system", Mode: "voice-chat", Content: "notice"})

	out := buf.String()
	assert.Contains(t, out, "[web/89abcdef] hello")
	assert.Contains(t, out, "[AI/text-chat] hi (fallback)")
	assert.Contains(t, out, "[SYS/voice-chat] notice")
}
