package tokenstore

import (
	"log/slog"
	"sync"
)

// Built-in provider names, in default preference order.
const (
	ProviderEnvFile  = "env_file"
	ProviderJSONFile = "json_file"
	ProviderDatabase = "database"
	ProviderAPI      = "api"
	ProviderKeyring  = "keyring"
)

// DefaultOrder is the preference order used when the caller does not supply
// one. Cheap local media come first, the remote token service last.
func DefaultOrder() []string {
	return []string{ProviderEnvFile, ProviderJSONFile, ProviderDatabase, ProviderAPI}
}

// Registry maps provider names to TokenProvider instances. It is safe for
// concurrent use. Providers whose construction can fail (the database
// backend needs to open and migrate its store) may be registered lazily.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]TokenProvider
	lazy      map[string]func() (TokenProvider, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]TokenProvider),
		lazy:      make(map[string]func() (TokenProvider, error)),
	}
}

// Register inserts a provider, overwriting any existing entry with the same
// name.
func (r *Registry) Register(p TokenProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	r.providers[name] = p
	delete(r.lazy, name)
	slog.Info("registered token provider", "provider", name)
}

// RegisterLazy records a constructor that is invoked on first lookup.
// Construction failures are reported by Get and retried on later lookups.
func (r *Registry) RegisterLazy(name string, construct func() (TokenProvider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providers, name)
	r.lazy[name] = construct
}

// Get returns the provider registered under name, constructing it first if
// it was registered lazily. Returns (nil, nil) when the name is unknown.
func (r *Registry) Get(name string) (TokenProvider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another goroutine may have won.
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	construct, ok := r.lazy[name]
	if !ok {
		return nil, nil
	}

	p, err := construct()
	if err != nil {
		return nil, &StorageError{Provider: name, Err: err}
	}
	r.providers[name] = p
	delete(r.lazy, name)
	return p, nil
}

// Names returns the names of all registered providers, including lazy ones
// not yet constructed. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers)+len(r.lazy))
	for name := range r.providers {
		names = append(names, name)
	}
	for name := range r.lazy {
		names = append(names, name)
	}
	return names
}
