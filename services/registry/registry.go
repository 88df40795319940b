// Package registry owns the set of loaded models, its durable cache and the
// background load queue.
package registry

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/upb/model-control-plane/internal/keylock"
	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/modelsource"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Model is a loaded registry entry
type Model struct {
	Key      models.ModelKey
	Handle   modelsource.Handle
	Params   models.LoadParams
	LoadedAt time.Time
}

type entry struct {
	handle   modelsource.Handle
	params   models.LoadParams
	loadedAt time.Time
}

// Registry maps model keys to loaded handles. Mutations of one key are serialized;
// identical concurrent resolutions share a single call to the model source.
type Registry struct {
	source  modelsource.Source
	cache   *Cache
	metrics observability.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[models.ModelKey]*entry

	locks     *keylock.Locker[models.ModelKey]
	resolving singleflight.Group
	persistMu sync.Mutex
}

// New creates an empty registry
func New(source modelsource.Source, cache *Cache, metrics observability.Metrics, logger *zap.Logger) *Registry {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Registry{
		source:  source,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		entries: make(map[models.ModelKey]*entry),
		locks:   keylock.New[models.ModelKey](),
	}
}

// Load resolves key and adds it to the registry. Loading a key that is already present
// is a no-op and reports false. If the cache cannot be rewritten the entry is removed
// again, so the registry never holds a model the cache does not record.
func (r *Registry) Load(ctx context.Context, key models.ModelKey, params models.LoadParams) (bool, error) {
	return r.load(ctx, key, params, true)
}

func (r *Registry) load(ctx context.Context, key models.ModelKey, params models.LoadParams, persist bool) (bool, error) {
	if r.contains(key) {
		r.logger.Debug("model already loaded", zap.String("model", key.String()))
		return false, nil
	}

	v, err, shared := r.resolving.Do(key.String(), func() (interface{}, error) {
		return r.resolve(ctx, key, params)
	})
	if err != nil {
		r.metrics.RecordModelLoad(string(key.Flavor), observability.OutcomeFailure)
		return false, err
	}
	handle := v.(modelsource.Handle)

	unlock := r.locks.Lock(key)
	defer unlock()

	r.mu.Lock()
	if _, exists := r.entries[key]; exists {
		r.mu.Unlock()
		return false, nil
	}
	r.entries[key] = &entry{handle: handle, params: params, loadedAt: time.Now().UTC()}
	r.mu.Unlock()

	if persist {
		if err := r.persist(); err != nil {
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
			r.metrics.RecordModelLoad(string(key.Flavor), observability.OutcomeFailure)
			return false, err
		}
	}

	r.metrics.SetModelsLoaded(r.Len())
	r.metrics.RecordModelLoad(string(key.Flavor), observability.OutcomeSuccess)
	r.logger.Info("model loaded",
		zap.String("model", key.String()),
		zap.String("resolved_version", handle.Describe().Version),
		zap.Bool("shared_resolution", shared))
	return true, nil
}

// resolve tries version semantics first and falls back to alias semantics.
// When both fail, both causes are attached to the returned error.
func (r *Registry) resolve(ctx context.Context, key models.ModelKey, params models.LoadParams) (modelsource.Handle, error) {
	handle, verErr := r.source.ResolveVersion(ctx, key, params)
	if verErr == nil {
		return handle, nil
	}
	r.logger.Debug("version resolution failed, trying alias",
		zap.String("model", key.String()),
		zap.Error(verErr))

	handle, aliasErr := r.source.ResolveAlias(ctx, key, params)
	if aliasErr == nil {
		return handle, nil
	}

	return nil, services.ErrModelLoadFailed.
		WithDetail("model", key.String()).
		Wrap(errors.Join(
			wrapStep("as version", verErr),
			wrapStep("as alias", aliasErr),
		))
}

// Unload removes key from the registry. If the cache cannot be rewritten the entry
// is restored and the error returned.
func (r *Registry) Unload(ctx context.Context, key models.ModelKey) error {
	unlock := r.locks.Lock(key)
	defer unlock()

	r.mu.Lock()
	e, exists := r.entries[key]
	if !exists {
		r.mu.Unlock()
		return services.ErrModelNotFound.WithDetail("model", key.String())
	}
	delete(r.entries, key)
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		r.mu.Lock()
		r.entries[key] = e
		r.mu.Unlock()
		return err
	}

	r.metrics.SetModelsLoaded(r.Len())
	r.logger.Info("model unloaded", zap.String("model", key.String()))
	return nil
}

// Get returns the loaded entry for key
func (r *Registry) Get(key models.ModelKey) (*Model, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, services.ErrModelNotLoaded.WithDetail("model", key.String())
	}
	return &Model{Key: key, Handle: e.handle, Params: e.params, LoadedAt: e.loadedAt}, nil
}

// List yields the loaded keys in order. It iterates over a snapshot, so concurrent
// loads and unloads do not affect an iteration in progress.
func (r *Registry) List() iter.Seq[models.ModelKey] {
	keys := r.Keys()
	return slices.Values(keys)
}

// Keys returns a sorted snapshot of the loaded keys
func (r *Registry) Keys() []models.ModelKey {
	r.mu.RLock()
	keys := make([]models.ModelKey, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.SortFunc(keys, compareKeys)
	return keys
}

// Len returns the number of loaded models
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Rehydrate loads every cached record, at most concurrency at a time. Records that no
// longer resolve are skipped with a warning. The cache file is left as it was; the next
// load or unload rewrites it from the registry.
func (r *Registry) Rehydrate(ctx context.Context, concurrency int) int {
	records, err := r.cache.Read()
	if err != nil {
		r.logger.Warn("model cache unreadable, starting empty", zap.Error(err))
		return 0
	}
	if len(records) == 0 {
		return 0
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, rec := range records {
		g.Go(func() error {
			key := rec.Key()
			if _, err := models.ParseFlavor(string(key.Flavor)); err != nil || key.Name == "" || key.VersionOrAlias == "" {
				r.logger.Warn("skipping invalid cache record", zap.String("model", key.String()))
				return nil
			}
			if _, err := r.load(ctx, key, rec.Params(), false); err != nil {
				r.logger.Warn("failed to rehydrate model",
					zap.String("model", key.String()),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	n := r.Len()
	r.logger.Info("registry rehydrated",
		zap.Int("cached", len(records)),
		zap.Int("loaded", n))
	return n
}

// persist rewrites the cache from a snapshot taken under persistMu, so the last write
// always reflects the latest registry state.
func (r *Registry) persist() error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.RLock()
	records := make([]models.CacheRecord, 0, len(r.entries))
	for k, e := range r.entries {
		records = append(records, models.NewCacheRecord(k, e.params))
	}
	r.mu.RUnlock()

	slices.SortFunc(records, func(a, b models.CacheRecord) int {
		return compareKeys(a.Key(), b.Key())
	})

	if err := r.cache.Write(records); err != nil {
		r.logger.Error("failed to persist model cache", zap.Error(err))
		return services.WrapInternal("failed to persist model cache", err)
	}
	return nil
}

func (r *Registry) contains(key models.ModelKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

func compareKeys(a, b models.ModelKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func wrapStep(step string, err error) error {
	return &stepError{step: step, err: err}
}
