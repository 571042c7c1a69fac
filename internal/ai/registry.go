package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Settings selects and configures the upstream providers.
type Settings struct {
	Model             string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

// DefaultRegistry registers every built-in provider. A model passed to Get
// overrides the configured one.
func DefaultRegistry(s Settings) *Registry {
	pick := func(model, def string) string {
		if model = strings.TrimSpace(model); model != "" {
			return model
		}
		return def
	}

	r := NewRegistry()
	r.Register("openai", func(_ context.Context, model string) (Provider, error) {
		return NewOpenAIProvider(s.OpenAIAPIKey, s.OpenAIBaseURL, pick(model, s.Model))
	})
	r.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(s.OllamaBaseURL, pick(model, s.OllamaModel)), nil
	})
	r.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(s.OpenRouterBaseURL, s.OpenRouterAPIKey, pick(model, s.OpenRouterModel), s.OpenRouterSiteURL, s.OpenRouterAppName), nil
	})
	r.Register("echo", func(context.Context, string) (Provider, error) {
		return NewEchoProvider(), nil
	})
	return r
}
