package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"voiceorb/pkg/config"
	"voiceorb/pkg/host"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech"
)

// GatewayManager owns the running surfaces and the dependencies their hosts share.
type GatewayManager struct {
	channels   map[string]Channel
	hosts      map[*host.Host]string
	store      *config.Store
	system     *config.SystemConfig
	relays     []session.Responder
	dialer     speech.StreamDialer
	monitor    monitor.Monitor
	httpClient *http.Client
	mu         sync.RWMutex
}

// NewGatewayManager creates a manager serving cfg from store.
func NewGatewayManager(store *config.Store, system *config.SystemConfig) *GatewayManager {
	if store == nil {
		store = config.NewStore(nil, "")
	}
	if system == nil {
		system = config.DefaultSystemConfig()
	}
	return &GatewayManager{
		channels: make(map[string]Channel),
		hosts:    make(map[*host.Host]string),
		store:    store,
		system:   system,
	}
}

// Register adds a Channel. A channel with the same ID is replaced.
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel returns the channel registered under id.
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// Serve registers c, starts it and keeps it running until ctx ends or its
// serving loop fails. c is stopped and unregistered before Serve returns.
func (g *GatewayManager) Serve(ctx context.Context, c Channel) error {
	g.Register(c)
	defer g.unregister(c)

	slog.Info("Starting channel", "channel", c.ID())
	if err := c.Start(g); err != nil {
		return fmt.Errorf("failed to start channel %s: %w", c.ID(), err)
	}

	done := make(chan error, 1)
	if w, ok := c.(Waiter); ok {
		go func() { done <- w.Wait() }()
	}

	select {
	case <-ctx.Done():
		slog.Info("Stopping channel", "channel", c.ID())
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", c.ID(), "error", err)
		}
		return nil
	case err := <-done:
		if stopErr := c.Stop(); stopErr != nil {
			slog.Error("Error stopping channel", "channel", c.ID(), "error", stopErr)
		}
		if err != nil {
			return fmt.Errorf("channel %s failed: %w", c.ID(), err)
		}
		slog.Info("Channel finished", "channel", c.ID())
		return nil
	}
}

func (g *GatewayManager) unregister(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.channels[c.ID()] == c {
		delete(g.channels, c.ID())
	}
}

// StopAll stops every channel, then closes the hosts they left open.
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	channels := make([]Channel, 0, len(g.channels))
	for _, c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.RUnlock()

	for _, c := range channels {
		slog.Info("Stopping channel", "channel", c.ID())
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", c.ID(), "error", err)
		}
	}

	g.mu.Lock()
	hosts := g.hosts
	g.hosts = make(map[*host.Host]string)
	g.mu.Unlock()
	for h := range hosts {
		h.Close()
	}
}

// NewHost implements ChannelContext.
func (g *GatewayManager) NewHost(opts HostOptions) (*host.Host, error) {
	g.mu.RLock()
	b := host.NewHostBuilder().
		WithConfigStore(g.store).
		WithSystemConfig(g.system).
		WithDevices(opts.Devices).
		WithRelays(g.relays...).
		WithVoiceDialer(g.dialer).
		WithObserver(opts.Observer).
		WithMonitor(g.monitor).
		WithHTTPClient(g.httpClient).
		WithSurface(opts.Surface).
		WithDefaultMode(opts.DefaultMode)
	g.mu.RUnlock()

	h, err := b.Build()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.hosts[h] = opts.Surface
	n := len(g.hosts)
	g.mu.Unlock()
	slog.Debug("Host opened", "surface", opts.Surface, "open_hosts", n)
	return h, nil
}

// ReleaseHost implements ChannelContext.
func (g *GatewayManager) ReleaseHost(h *host.Host) {
	g.mu.Lock()
	delete(g.hosts, h)
	g.mu.Unlock()
	h.Close()
}

// OpenHosts returns the number of hosts not yet released.
func (g *GatewayManager) OpenHosts() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.hosts)
}

// Config implements ChannelContext.
func (g *GatewayManager) Config() *config.Config {
	return g.store.Get()
}

// System implements ChannelContext.
func (g *GatewayManager) System() *config.SystemConfig {
	return g.system
}

// SetMonitor sets the monitor mirrored by every new host.
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.monitor = m
}

// SetRelays sets the relay tier handed to new voice sessions.
func (g *GatewayManager) SetRelays(relays ...session.Responder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relays = relays
}

// SetVoiceDialer sets how new voice sessions reach the external voice service.
func (g *GatewayManager) SetVoiceDialer(d speech.StreamDialer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialer = d
}

// SetHTTPClient overrides the webhook transport of new text sessions.
func (g *GatewayManager) SetHTTPClient(c *http.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.httpClient = c
}
