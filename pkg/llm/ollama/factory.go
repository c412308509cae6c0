package ollama

import (
	"log/slog"

	"voiceorb/pkg/config"
	"voiceorb/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" && sys != nil {
		baseURL = sys.OllamaDefaultURL
	}

	var clients []llm.LLMClient
	for _, model := range cfg.Models {
		client, err := NewOllamaClient(model, baseURL, cfg.Options, nil)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		client.SetDebug(cfg.DebugEnabled())
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
