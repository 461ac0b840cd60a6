package adapters

import (
	"strings"

	"github.com/smallbiznis/imagegen/internal/payment/domain"
)

// Registry maps provider names to adapter factories and their configuration.
type Registry struct {
	factories map[string]domain.AdapterFactory
	configs   map[string]map[string]any
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		configs:   map[string]map[string]any{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Configure sets the adapter settings used for provider.
func (r *Registry) Configure(provider string, cfg map[string]any) *Registry {
	r.configs[normalize(provider)] = cfg
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(domain.AdapterConfig{
		Provider: provider,
		Config:   r.configs[provider],
	})
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
