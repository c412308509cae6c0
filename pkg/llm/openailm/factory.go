package openailm

import (
	"voiceorb/pkg/config"
	"voiceorb/pkg/llm"
)

// OpenAIFactory handles creation of OpenAI Clients
type OpenAIFactory struct{}

// Create implements ProviderFactory
func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}

	var clients []llm.LLMClient
	for _, model := range cfg.Models {
		client := NewClient("openai", apiKey, model, cfg.BaseURL, cfg.Options)
		client.SetDebug(cfg.DebugEnabled())
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{})
}
