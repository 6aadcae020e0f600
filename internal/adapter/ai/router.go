package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// Router dispatches cascade model ids to providers. An id of the form
// "name:model" goes to the provider registered as name with the prefix
// stripped; a bare id goes to the default provider.
type Router struct {
	def       string
	providers map[string]domain.Provider
}

// NewRouter creates a router whose default provider is def.
func NewRouter(def domain.Provider, others ...domain.Provider) (*Router, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: default provider is nil", domain.ErrInvalidArgument)
	}
	r := &Router{def: def.Name(), providers: map[string]domain.Provider{def.Name(): def}}
	for _, p := range others {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Name implements domain.Provider.
func (r *Router) Name() string { return "router" }

// Generate implements domain.Provider.
func (r *Router) Generate(ctx context.Context, model, prompt string) (string, error) {
	name, id := r.split(model)
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: no provider %q for model %q", domain.ErrProviderFailure, name, model)
	}
	return p.Generate(ctx, id, prompt)
}

func (r *Router) split(model string) (provider, id string) {
	if i := strings.Index(model, ":"); i > 0 {
		return strings.ToLower(model[:i]), model[i+1:]
	}
	return r.def, model
}
