package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/crewmatch/coxswain/pkg/provider"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TransportFactory builds a model transport from its provider configuration.
type TransportFactory func(ProviderConfig) (provider.Transport, error)

// Registry maps provider names to transport factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]TransportFactory)}
}

// Register registers a transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a transport using the factory registered under name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Create(name string, cfg ProviderConfig) (provider.Transport, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// Build constructs transports for every provider in cfg that is registered
// and carries usable credentials. Providers without credentials are skipped
// rather than failed, so a config written for several environments builds
// cleanly with only the secrets the current one has. A factory failure for a
// credentialed provider is a hard error.
func (r *Registry) Build(cfg *Config) (map[string]provider.Transport, error) {
	transports := make(map[string]provider.Transport)
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		entry := cfg.Providers[name]
		if !HasCredentials(name, entry) {
			slog.Debug("provider has no usable credentials; skipping", "provider", name)
			continue
		}
		t, err := r.Create(name, entry)
		if err != nil {
			if errors.Is(err, ErrProviderNotRegistered) {
				slog.Warn("no transport registered for provider; skipping", "provider", name)
				continue
			}
			return nil, fmt.Errorf("config: build transport for %q: %w", name, err)
		}
		transports[name] = t
	}
	return transports, nil
}

// localVendors serve models from the caller's own hardware and authenticate
// by endpoint rather than API key.
var localVendors = map[string]bool{
	"ollama":    true,
	"llamacpp":  true,
	"llamafile": true,
}

// HasCredentials reports whether entry carries enough for provider name to
// be called. Hosted vendors need an API key; local vendors need a base URL.
func HasCredentials(name string, entry ProviderConfig) bool {
	if localVendors[name] {
		return entry.BaseURL != ""
	}
	return entry.APIKey != ""
}
