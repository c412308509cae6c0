package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voiceorb/pkg/monitor"
)

// DebugRoot is the directory raw provider streams are written under.
var DebugRoot = filepath.Join("debug", "chunks")

// StreamDebugger writes the raw events of one provider stream to a file.
// A disabled debugger accepts every call and does nothing.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger opens debug/chunks/[session/]provider/<timestamp>.log.
// The session directory comes from the session id carried by ctx.
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{}
	}

	debugDir := filepath.Join(DebugRoot, provider)
	if id := monitor.SessionID(ctx); id != "" {
		debugDir = filepath.Join(DebugRoot, id, provider)
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("Failed to create debug directory", "dir", debugDir, "error", err)
		return &StreamDebugger{}
	}

	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", time.Now().Format("20060102_150405.000")))
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open debug file", "file", filename, "error", err)
		return &StreamDebugger{}
	}

	slog.Debug("Debug mode ON", "provider", provider, "file", filename)
	return &StreamDebugger{file: f, enabled: true}
}

// Enabled reports whether writes reach a file.
func (d *StreamDebugger) Enabled() bool {
	return d.enabled && d.file != nil
}

// Write appends data followed by a newline.
func (d *StreamDebugger) Write(data []byte) {
	if !d.Enabled() {
		return
	}
	if _, err := d.file.Write(data); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
	d.file.Write([]byte{'\n'})
}

// WriteString appends s followed by a newline.
func (d *StreamDebugger) WriteString(s string) {
	d.Write([]byte(s))
}

// Close closes the debug file.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
