package agorabus

import (
	"errors"
	"sync"
)

// ProviderFactory constructs providers from a config blob.
type ProviderFactory func(cfg map[string]any) (Provider, error)

var (
	providerRegistryMu sync.RWMutex
	providerRegistry   = map[string]ProviderFactory{}
)

// RegisterProviderFactory registers a provider adapter by name. Adapters call
// this from init() so config-driven hosts can build them via NewProvider.
func RegisterProviderFactory(name string, factory ProviderFactory) error {
	if name == "" {
		return errors.New("provider factory name must not be empty")
	}
	if factory == nil {
		return errors.New("provider factory must not be nil")
	}
	providerRegistryMu.Lock()
	providerRegistry[name] = factory
	providerRegistryMu.Unlock()
	return nil
}

// NewProvider constructs a provider by factory name with config.
func NewProvider(name string, cfg map[string]any) (Provider, error) {
	providerRegistryMu.RLock()
	f, ok := providerRegistry[name]
	providerRegistryMu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return f(cfg)
}
