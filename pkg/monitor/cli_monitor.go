package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based view of the transcripts of every hosted session.
type CLIMonitor struct {
	mu     sync.Mutex
	writer io.Writer // The output destination, typically os.Stdout.
}

// NewCLIMonitor creates a new CLI monitor writing to stdout.
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorWriter(os.Stdout)
}

// NewCLIMonitorWriter creates a CLI monitor writing to w.
func NewCLIMonitorWriter(w io.Writer) *CLIMonitor {
	return &CLIMonitor{writer: w}
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - All session transcripts will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage receives and displays a monitoring message
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")

	var displayMsg string
	switch msg.Role {
	case "assistant":
		displayMsg = fmt.Sprintf("[AI/%s] %s", msg.Mode, msg.Content)
		if msg.Fallback {
			displayMsg += " (fallback)"
		}
	case "system":
		displayMsg = fmt.Sprintf("[SYS/%s] %s", msg.Mode, msg.Content)
	default:
		displayMsg = fmt.Sprintf("[%s/%s] %s", msg.Surface, shortID(msg.SessionID), msg.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Use gray color for timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", timestamp, displayMsg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
