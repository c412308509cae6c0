package gateway

import (
	"fmt"
	"net/http"

	"voiceorb/pkg/config"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech"
)

// GatewayBuilder provides a fluent builder pattern interface for constructing
// a GatewayManager with all its necessary dependencies.
//
// All components (relays, dialer, monitor) are pre-built and injected as
// instances. Channels are handed to GatewayManager.Serve afterwards.
type GatewayBuilder struct {
	store        *config.Store        // Live session configuration shared by all hosts
	systemConfig *config.SystemConfig // Technical parameters for the gateway
	monitor      monitor.Monitor      // Monitoring implementation to be injected
	relays       []session.Responder  // Optional relay voice tier
	dialer       speech.StreamDialer  // External voice service
	httpClient   *http.Client         // Webhook transport override
}

// NewGatewayBuilder creates a fresh GatewayBuilder.
func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{}
}

// WithConfigStore sets the configuration every host reads at activation.
func (b *GatewayBuilder) WithConfigStore(s *config.Store) *GatewayBuilder {
	b.store = s
	return b
}

// WithSystemConfig provides engine-level technical parameters.
func (b *GatewayBuilder) WithSystemConfig(cfg *config.SystemConfig) *GatewayBuilder {
	b.systemConfig = cfg
	return b
}

// WithMonitor injects a monitoring implementation into the builder.
// This monitor will be started automatically during the Build() process.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithRelays sets the responders tried between the external voice service
// and the canned replies.
func (b *GatewayBuilder) WithRelays(relays ...session.Responder) *GatewayBuilder {
	b.relays = append(b.relays, relays...)
	return b
}

// WithVoiceDialer sets how voice sessions reach the external voice service.
func (b *GatewayBuilder) WithVoiceDialer(d speech.StreamDialer) *GatewayBuilder {
	b.dialer = d
	return b
}

// WithHTTPClient overrides the webhook transport.
func (b *GatewayBuilder) WithHTTPClient(c *http.Client) *GatewayBuilder {
	b.httpClient = c
	return b
}

// Build injects all dependencies into a GatewayManager and starts the monitor.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	gw := NewGatewayManager(b.store, b.systemConfig)
	gw.SetRelays(b.relays...)
	gw.SetVoiceDialer(b.dialer)
	gw.SetHTTPClient(b.httpClient)

	if b.monitor != nil {
		gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}
	return gw, nil
}
