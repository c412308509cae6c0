package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/channels"
	"voiceorb/pkg/config"
	"voiceorb/pkg/gateway"
	"voiceorb/pkg/host"
)

// WebFactory creates the web widget channel.
type WebFactory struct{}

// Create implements ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (gateway.Channel, error) {
	cfg := WebConfig{Port: 8080}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse web config: %w", err)
		}
	}
	if cfg.DefaultMode != "" {
		if _, ok := host.GetModeFactory(cfg.DefaultMode); !ok {
			return nil, fmt.Errorf("unknown default_mode %q", cfg.DefaultMode)
		}
	}
	return NewWebChannel(cfg), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
