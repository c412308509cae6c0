package host

import (
	"sort"
	"sync"

	"voiceorb/pkg/api"
)

// ModeFactory builds the session of one conversation mode.
type ModeFactory interface {
	// Create instantiates a session from the environment snapshot taken at
	// activation time.
	Create(env Env) (api.Session, error)
}

// ModeFactoryFunc adapts a function to ModeFactory.
type ModeFactoryFunc func(env Env) (api.Session, error)

// Create implements ModeFactory.
func (f ModeFactoryFunc) Create(env Env) (api.Session, error) { return f(env) }

var (
	modeRegistry = make(map[string]ModeFactory)
	registryMu   sync.RWMutex
)

// RegisterMode adds a ModeFactory under name, replacing any previous one.
// The built-in modes register themselves in init().
func RegisterMode(name string, factory ModeFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	modeRegistry[name] = factory
}

// GetModeFactory retrieves a registered ModeFactory by name.
func GetModeFactory(name string) (ModeFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := modeRegistry[name]
	return f, ok
}

// Modes lists the registered mode names in alphabetical order.
func Modes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(modeRegistry))
	for name := range modeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
