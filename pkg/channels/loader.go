package channels

import (
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/config"
	"voiceorb/pkg/gateway"
)

// LoadFromConfig resolves a factory for every entry of the "channels" config
// block and returns the channels that could be created. Unknown or broken
// entries are logged and skipped.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, system *config.SystemConfig) []gateway.Channel {
	var out []gateway.Channel
	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// Create may return nil when the surface is disabled
		if channel == nil {
			continue
		}

		out = append(out, channel)
		slog.Info("Channel loaded", "name", name)
	}
	return out
}
