package host

import (
	"fmt"
	"net/http"

	"voiceorb/pkg/api"
	"voiceorb/pkg/config"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech"
)

// HostBuilder provides a fluent interface for assembling a Host.
//
// Every dependency is injected as a ready instance. Shared ones (config
// store, monitor, relays) are typically built once per process and handed to
// the builder of every connection.
type HostBuilder struct {
	store       *config.Store        // Live session configuration
	system      *config.SystemConfig // Technical parameters
	devices     Devices              // Audio endpoints of the surface
	relays      []session.Responder  // Optional voice relay tier
	dialer      speech.StreamDialer  // External voice service
	observer    api.SessionObserver  // Render updates for the surface
	monitor     monitor.Monitor      // Operator view of the transcripts
	httpClient  *http.Client         // Webhook transport override
	surface     string               // Surface name used in logs and the monitor
	defaultMode string               // Mode activated by Build, if any
}

// NewHostBuilder creates an empty builder.
func NewHostBuilder() *HostBuilder {
	return &HostBuilder{}
}

// WithConfigStore sets the configuration source read at every activation.
func (b *HostBuilder) WithConfigStore(s *config.Store) *HostBuilder {
	b.store = s
	return b
}

// WithSystemConfig sets the engine-level technical parameters.
func (b *HostBuilder) WithSystemConfig(cfg *config.SystemConfig) *HostBuilder {
	b.system = cfg
	return b
}

// WithDevices sets the microphone, recognizer, synthesizer and audio sink
// used by voice modes.
func (b *HostBuilder) WithDevices(d Devices) *HostBuilder {
	b.devices = d
	return b
}

// WithRelays appends responders tried between the external voice service and
// the canned replies.
func (b *HostBuilder) WithRelays(relays ...session.Responder) *HostBuilder {
	b.relays = append(b.relays, relays...)
	return b
}

// WithVoiceDialer sets how the external voice service is reached. It is only
// used when the configuration carries an API key.
func (b *HostBuilder) WithVoiceDialer(d speech.StreamDialer) *HostBuilder {
	b.dialer = d
	return b
}

// WithObserver sets the receiver of render updates.
func (b *HostBuilder) WithObserver(o api.SessionObserver) *HostBuilder {
	b.observer = o
	return b
}

// WithMonitor mirrors every transcript entry to m. Starting the monitor is
// left to its owner since one monitor usually serves many hosts.
func (b *HostBuilder) WithMonitor(m monitor.Monitor) *HostBuilder {
	b.monitor = m
	return b
}

// WithHTTPClient overrides the webhook transport.
func (b *HostBuilder) WithHTTPClient(c *http.Client) *HostBuilder {
	b.httpClient = c
	return b
}

// WithSurface names the surface the host serves (e.g. "web").
func (b *HostBuilder) WithSurface(name string) *HostBuilder {
	b.surface = name
	return b
}

// WithDefaultMode makes Build activate mode before returning.
func (b *HostBuilder) WithDefaultMode(mode string) *HostBuilder {
	b.defaultMode = mode
	return b
}

// Build assembles the Host and activates the default mode, if one was set.
func (b *HostBuilder) Build() (*Host, error) {
	store := b.store
	if store == nil {
		store = config.NewStore(nil, "")
	}
	system := b.system
	if system == nil {
		system = config.DefaultSystemConfig()
	}
	surface := b.surface
	if surface == "" {
		surface = "local"
	}

	h := &Host{
		store:      store,
		system:     system,
		devices:    b.devices,
		relays:     b.relays,
		dialer:     b.dialer,
		observer:   b.observer,
		monitor:    b.monitor,
		httpClient: b.httpClient,
		surface:    surface,
		notes:      NewMeetingNotes(),
	}

	if b.defaultMode != "" {
		if _, err := h.Activate(b.defaultMode); err != nil {
			return nil, fmt.Errorf("failed to activate default mode: %w", err)
		}
	}
	return h, nil
}
