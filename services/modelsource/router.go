package modelsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/upb/model-control-plane/models"
)

// Router dispatches resolution to the source registered for a key's flavor
type Router struct {
	mu      sync.RWMutex
	sources map[models.Flavor]Source
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{sources: make(map[models.Flavor]Source)}
}

// NewDefaultRouter serves hfhub from hub and every other flavor from mlflow
func NewDefaultRouter(mlflow, hub Source) *Router {
	r := NewRouter()
	r.Register(mlflow, models.FlavorPyfunc, models.FlavorSklearn, models.FlavorTransformers)
	r.Register(hub, models.FlavorHFHub)
	return r
}

// Register serves flavors from source, replacing any previous mapping
func (r *Router) Register(source Source, flavors ...models.Flavor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range flavors {
		r.sources[f] = source
	}
}

// ResolveVersion implements Source
func (r *Router) ResolveVersion(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	src, err := r.sourceFor(key.Flavor)
	if err != nil {
		return nil, err
	}
	return src.ResolveVersion(ctx, key, params)
}

// ResolveAlias implements Source
func (r *Router) ResolveAlias(ctx context.Context, key models.ModelKey, params models.LoadParams) (Handle, error) {
	src, err := r.sourceFor(key.Flavor)
	if err != nil {
		return nil, err
	}
	return src.ResolveAlias(ctx, key, params)
}

func (r *Router) sourceFor(flavor models.Flavor) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[flavor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFlavor, flavor)
	}
	return src, nil
}
