package gateway

import (
	"voiceorb/pkg/api"
	"voiceorb/pkg/config"
	"voiceorb/pkg/host"
)

// Channel defines the lifecycle of a surface (web widget, Telegram bot, ...).
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
}

// Waiter is implemented by channels whose serving loop can end on its own.
// Wait blocks until the loop has ended and reports why; it returns nil
// when the loop ended because of Stop.
type Waiter interface {
	Wait() error
}

// ChannelContext is what a running Channel may ask of the gateway.
type ChannelContext interface {
	// NewHost builds a Host for one widget instance of the surface, sharing
	// the gateway's config store, relays, voice dialer and monitor.
	NewHost(opts HostOptions) (*host.Host, error)
	// ReleaseHost closes a Host obtained from NewHost.
	ReleaseHost(h *host.Host)
	// Config returns the current session configuration.
	Config() *config.Config
	// System returns the technical parameters.
	System() *config.SystemConfig
}

// HostOptions describes the widget instance a Host is built for.
type HostOptions struct {
	Surface     string              // Surface name used in logs and the monitor
	Devices     host.Devices        // Audio endpoints; empty for text-only surfaces
	Observer    api.SessionObserver // Receives render updates
	DefaultMode string              // Mode activated before NewHost returns
}
