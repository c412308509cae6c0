package llm

import (
	"sort"
	"sync"

	"voiceorb/pkg/config"
)

// ProviderGroupConfig is one entry of the "llm" config array.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// DebugEnabled reports whether raw stream logging is requested for the group.
func (g ProviderGroupConfig) DebugEnabled() bool {
	v, _ := g.Options[OptionDebug].(bool)
	return v
}

// ProviderFactory builds the clients of one provider group.
type ProviderFactory interface {
	// Create returns one client per configured model.
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]LLMClient, error)
}

var (
	providerMu       sync.RWMutex
	providerRegistry = make(map[string]ProviderFactory)
)

// RegisterProvider registers a provider factory under name.
func RegisterProvider(name string, factory ProviderFactory) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[name] = factory
}

// GetProviderFactory returns the factory registered under name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	f, ok := providerRegistry[name]
	return f, ok
}

// Providers lists the registered provider names in sorted order.
func Providers() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
