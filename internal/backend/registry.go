package backend

import (
	"fmt"
	"sync"
)

// Factory constructs a provider on demand.
type Factory func() (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a provider available under name. Providers call it from
// init; registering a name twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("backend: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	registry[name] = f
}

// Has reports whether a provider is registered under name.
func Has(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Lookup resolves name (after Normalize) to a provider. Auto prefers the
// accelerator provider and falls back to the reference provider.
func Lookup(name string) (Provider, error) {
	n, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if n == Auto {
		n = Reference
		if Has(AIC) {
			n = AIC
		}
	}

	registryMu.RLock()
	f, ok := registry[n]
	registryMu.RUnlock()
	if !ok {
		if n == AIC {
			return nil, fmt.Errorf("%w (available: %s)", errAICUnavailable, Available())
		}
		return nil, fmt.Errorf("backend %q is not registered (available: %s)", n, Available())
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("init %s backend: %w", n, err)
	}
	return p, nil
}
