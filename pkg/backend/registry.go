package backend

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory creates a driver. A nil logger means discard.
type Factory func(*slog.Logger) Driver

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a driver factory to the registry.
// Called by driver implementations in their init() functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a driver factory by name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Open creates the driver registered under name.
func Open(name string, logger *slog.Logger) (Driver, error) {
	if name == "" {
		return nil, fmt.Errorf("backend type not specified")
	}

	factory, ok := Get(name)
	if !ok {
		return nil, &UnknownDriverError{
			Type:      name,
			Available: List(),
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger), nil
}

// List returns all registered driver names (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a driver is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownDriverError is returned when an unknown backend type is requested.
type UnknownDriverError struct {
	Type      string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown backend type %q\nAvailable backends: %v\nHint: Check backend.type in querydeck.yaml", e.Type, e.Available)
}
