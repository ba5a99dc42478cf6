package adapter

import (
	"context"
	"errors"
	"fmt"

	"dealhound/browser"
	"dealhound/config"
	"dealhound/models"
	"dealhound/proxy"
	"dealhound/ratelimit"
)

var ErrUnknownSource = errors.New("unknown source")

// SourceAdapter is the contract every storefront integration satisfies. A
// FetchDeals call may return partial results alongside an error; callers
// process what came back before deciding what to do about the failure.
type SourceAdapter interface {
	ID() string
	FetchDeals(ctx context.Context, category *string) ([]models.NormalizedDeal, error)
	FetchProductDetails(ctx context.Context, externalID string) (*models.NormalizedProduct, error)
	HealthCheck(ctx context.Context) bool
}

// Deps carries the shared infrastructure adapters draw on.
type Deps struct {
	Limiter *ratelimit.Limiter
	Proxies proxy.Pool
	Browser *browser.SessionPool
}

// Registry builds adapters from source configs, keyed by source ID.
type Registry struct {
	sources map[string]*config.SourceConfig
	deps    Deps
}

func NewRegistry(sources map[string]*config.SourceConfig, deps Deps) *Registry {
	return &Registry{sources: sources, deps: deps}
}

// CreateAdapter instantiates the adapter for the source. The adapter kind
// comes from the source config, so adding a storefront is a config change
// unless it needs a new extraction mechanism.
func (r *Registry) CreateAdapter(sourceID string) (SourceAdapter, error) {
	cfg, ok := r.sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	switch cfg.Adapter {
	case "api":
		return newAPIAdapter(cfg, r.deps), nil
	case "html":
		return newHTMLAdapter(cfg, r.deps), nil
	case "browser":
		return newBrowserAdapter(cfg, r.deps), nil
	default:
		return nil, fmt.Errorf("source %s: unsupported adapter kind %q", sourceID, cfg.Adapter)
	}
}

// Sources lists the configured source IDs.
func (r *Registry) Sources() []string {
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	return ids
}
