package monitor

import "time"

// MonitorMessage is one transcript entry as seen by an operator.
type MonitorMessage struct {
	Timestamp time.Time
	Role      string // "user", "assistant" or "system"
	Mode      string // Session mode the entry belongs to (e.g. "text-chat")
	SessionID string
	Surface   string // Surface hosting the session (e.g. "web", "telegram", "terminal")
	Content   string
	Fallback  bool // True when the entry is a degraded or simulated reply
}

// Monitor defines the behavior of an operator-facing transcript observer.
type Monitor interface {
	// Start starts the monitor
	Start() error

	// Stop stops the monitor
	Stop() error

	// OnMessage receives and displays a monitoring message
	OnMessage(msg MonitorMessage)
}
