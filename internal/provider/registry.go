package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Entry pairs a built adapter with the configuration it came from.
type Entry struct {
	Config   Config
	Provider Provider
	// Index is the declaration position, used to break priority ties.
	Index int
}

// Registry holds the enabled providers for one tick in declaration order.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds one provider. Names are normalized and must be unique.
func (r *Registry) Register(cfg Config, provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := NormalizeName(cfg.Name)
	if name == "" {
		name = NormalizeName(provider.Name())
	}
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("provider %q is registered twice", name)
	}
	cfg.Name = name
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Config: cfg, Provider: provider, Index: len(r.entries)})
	return nil
}

func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.entries) == 0 {
		return nil, ErrNoProviders
	}
	resolved := NormalizeName(name)
	idx, ok := r.byName[resolved]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered (available: %s)", resolved, strings.Join(r.ProviderNames(), ", "))
	}
	return r.entries[idx].Provider, nil
}

// ProviderNames lists registered names in declaration order.
func (r *Registry) ProviderNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.Config.Name)
	}
	return names
}

func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Close releases adapters that hold client resources.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, entry := range r.entries {
		if closer, ok := entry.Provider.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close provider %s: %w", entry.Config.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Builder turns a provider config plus its resolved credential into an adapter.
type Builder interface {
	Build(ctx context.Context, cfg Config, apiKey string) (Provider, error)
}

type BuilderFunc func(ctx context.Context, cfg Config, apiKey string) (Provider, error)

func (f BuilderFunc) Build(ctx context.Context, cfg Config, apiKey string) (Provider, error) {
	return f(ctx, cfg, apiKey)
}

// HTTPBuilder builds the stock adapters for every supported Kind.
type HTTPBuilder struct {
	Client *http.Client
}

func (b HTTPBuilder) Build(ctx context.Context, cfg Config, apiKey string) (Provider, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindGemini:
		return NewGeminiProvider(ctx, cfg.Name, cfg.Endpoint, cfg.Model, apiKey)
	default:
		return NewOpenAIProvider(cfg.Name, cfg.Endpoint, cfg.Model, apiKey, b.Client), nil
	}
}

// BuildRegistry builds a registry from the enabled configs. Providers that
// fail validation, credential lookup or construction are skipped and reported;
// the rest stay usable.
func BuildRegistry(ctx context.Context, configs []Config, secrets SecretSource, builder Builder) (*Registry, []error) {
	registry := NewRegistry()
	var errs []error
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}

		apiKey := ""
		if ref := strings.TrimSpace(cfg.CredentialRef); ref != "" {
			if secrets == nil {
				errs = append(errs, fmt.Errorf("provider %q: no secret source for credential %q", cfg.Name, ref))
				continue
			}
			resolved, err := secrets.Resolve(ctx, ref)
			if err != nil {
				errs = append(errs, fmt.Errorf("provider %q: %w", cfg.Name, err))
				continue
			}
			apiKey = resolved
		}

		if _, exists := registry.byName[NormalizeName(cfg.Name)]; exists {
			errs = append(errs, fmt.Errorf("provider %q is declared twice", NormalizeName(cfg.Name)))
			continue
		}
		built, err := builder.Build(ctx, cfg, apiKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("build provider %q: %w", cfg.Name, err))
			continue
		}
		if err := registry.Register(cfg, built); err != nil {
			errs = append(errs, err)
		}
	}
	return registry, errs
}
