package channels

import (
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/config"
	"voiceorb/pkg/gateway"
)

// ChannelFactory defines the abstract interface for surface-specific
// channel creators. New surfaces register a factory without touching the
// gateway.
type ChannelFactory interface {
	// Create instantiates a Channel from its raw config block.
	Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (gateway.Channel, error)
}

var (
	registryMu      sync.RWMutex
	channelRegistry = make(map[string]ChannelFactory)
)

// RegisterChannel adds a new ChannelFactory to the registry.
// This is typically called during the package's init() phase.
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by surface name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := channelRegistry[name]
	return f, ok
}

// Names lists the registered surfaces in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(channelRegistry))
	for name := range channelRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
