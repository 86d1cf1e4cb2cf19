package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"panorama/internal/model"
)

// Provider turns a SourceSpec into request URLs and a raw table for one
// remote API.
type Provider interface {
	Name() string
	Endpoints(spec model.SourceSpec) ([]string, error)
	FetchTable(ctx context.Context, spec model.SourceSpec) (model.Table, error)
}

type Registry map[string]Provider

func NewRegistry(list ...Provider) Registry {
	registry := make(Registry, len(list))
	for _, provider := range list {
		registry[provider.Name()] = provider
	}
	return registry
}

func (r Registry) Get(name string) (Provider, error) {
	provider, ok := r[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return provider, nil
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
