package llm

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.LLMProvider)}
}

// Register adds a provider under its Name.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, "provider "+name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns the registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// newProviderFunc builds one provider from its config.
type newProviderFunc func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error)

// providerFactories maps provider types to constructors. Bedrock registers
// itself when built with the bedrock tag.
var providerFactories = map[string]newProviderFunc{
	"anthropic": func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
		return NewAnthropicProvider(cfg, logger), nil
	},
}

// Build creates every configured provider, wraps each in a circuit breaker
// when enabled, registers them, and returns the provider the agent should
// call: the default one, or a failover chain when failover is enabled.
func Build(cfg config.LLMConfig, logger *slog.Logger) (*Registry, domain.LLMProvider, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		factory, ok := providerFactories[pc.Type]
		if !ok {
			return nil, nil, domain.NewDomainError("llm.Build", domain.ErrProviderNotFound,
				fmt.Sprintf("provider %s: type %q is not available in this build", pc.Name, pc.Type))
		}
		p, err := factory(pc, logger.With("provider", pc.Name))
		if err != nil {
			return nil, nil, fmt.Errorf("create provider %s: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, nil, err
		}
	}

	primary, err := reg.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return reg, primary, nil
	}

	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, name := range cfg.Failover.Fallbacks {
		fb, err := reg.Get(name)
		if err != nil {
			return nil, nil, err
		}
		fallbacks = append(fallbacks, fb)
	}
	return reg, NewFailoverProvider(primary, fallbacks, logger), nil
}
