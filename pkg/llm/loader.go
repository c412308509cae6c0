package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/config"
)

// ErrNotConfigured is returned by NewFromConfig when the "llm" block is absent.
var ErrNotConfigured = errors.New("llm relay not configured")

// NewFromConfig builds the client described by the raw "llm" config block.
// Several clients are wrapped in a FallbackClient using the system retry policy.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (LLMClient, error) {
	if len(rawLLM) == 0 || string(rawLLM) == "null" {
		return nil, ErrNotConfigured
	}
	if system == nil {
		system = config.DefaultSystemConfig()
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var clients []LLMClient
	for _, group := range groups {
		slog.Info("Loading relay provider group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown relay provider type", "type", group.Type)
			continue
		}

		created, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create relay clients", "type", group.Type, "error", err)
			continue
		}
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no relay clients could be initialized")
	}
	slog.Info("Relay clients initialized", "count", len(clients))

	if len(clients) == 1 {
		return clients[0], nil
	}
	return &FallbackClient{
		Clients:    clients,
		MaxRetries: system.MaxRetries,
		RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
	}, nil
}

// NewRelayFromConfig builds the relay voice tier from the widget config.
// It returns ErrNotConfigured when the config has no "llm" block.
func NewRelayFromConfig(cfg *config.Config, system *config.SystemConfig) (*Relay, error) {
	if system == nil {
		system = config.DefaultSystemConfig()
	}
	client, err := NewFromConfig(cfg.LLM, system)
	if err != nil {
		return nil, err
	}
	return NewRelay(client, cfg.SystemPrompt, config.Ms(system.LLMTimeoutMs)), nil
}
