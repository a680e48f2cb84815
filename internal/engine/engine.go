// Package engine provides the default query execution engine: per-key
// fetch state, request deduplication, stale-time bookkeeping, and
// write-through to the configured cache backend.
package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/opquery-io/opquery/internal/constants"
	"github.com/opquery-io/opquery/pkg/opquery"
)

// Engine is the default opquery.Engine. Each distinct cache key maps to
// one shared entry: every subscriber of a key reads the same reactive
// state, and concurrent fetches for a key collapse into one request.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*entry

	cache     opquery.Cache
	logger    opquery.Logger
	staleTime time.Duration
	cacheTTL  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the storage backend. Without one the engine keeps
// results in memory only, inside the reactive state.
func WithCache(cache opquery.Cache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger opquery.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStaleTime sets the default freshness window for entries whose spec
// does not carry one.
func WithStaleTime(d time.Duration) Option {
	return func(e *Engine) {
		e.staleTime = d
	}
}

// WithCacheTTL sets the expiry written into stored cache entries.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = d
	}
}

// New creates an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		entries:   make(map[string]*entry),
		logger:    opquery.NopLogger(),
		staleTime: constants.DefaultStaleTime,
		cacheTTL:  constants.DefaultCacheTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// entry is the shared per-key fetch state. refs counts live
// subscriptions; entries created by SetQueryData start passive at zero.
type entry struct {
	key   opquery.CacheKey
	state *opquery.QueryState

	mu        sync.Mutex
	spec      *opquery.QuerySpec
	refs      int
	updatedAt time.Time
	stale     bool
	inflight  *inflight
	cancel    context.CancelFunc
}

// inflight dedups concurrent fetches: late callers wait on done and
// share the settled result.
type inflight struct {
	done   chan struct{}
	result *opquery.FetchResult
}

type subscription struct {
	engine *Engine
	entry  *entry

	closeOnce sync.Once
}

// Subscribe implements opquery.Engine.
func (e *Engine) Subscribe(spec *opquery.QuerySpec) (opquery.Subscription, error) {
	if spec == nil || spec.Fetch == nil {
		return nil, opquery.ErrEngineRequired
	}

	if len(spec.Key) == 0 {
		return nil, opquery.ErrNilSubscriptionKey
	}

	ent, created := e.acquire(spec)

	if created {
		e.hydrate(ent)
	}

	sub := &subscription{engine: e, entry: ent}

	if e.needsFetch(ent) {
		go func() {
			ctx, cancel := context.WithCancel(context.Background())

			ent.mu.Lock()
			ent.cancel = cancel
			ent.mu.Unlock()

			e.fetch(ctx, ent)
		}()
	}

	return sub, nil
}

func (e *Engine) acquire(spec *opquery.QuerySpec) (*entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keyStr := spec.Key.String()

	ent, ok := e.entries[keyStr]
	if !ok {
		ent = &entry{
			key:   spec.Key.Clone(),
			state: opquery.NewQueryState(),
		}
		e.entries[keyStr] = ent
	}

	ent.mu.Lock()
	ent.spec = spec
	ent.refs++
	ent.mu.Unlock()

	return ent, !ok
}

// hydrate seeds a new entry from the cache backend so a subscriber sees
// stored data before the first network fetch settles.
func (e *Engine) hydrate(ent *entry) {
	if e.cache == nil {
		return
	}

	stored, err := e.cache.Get(context.Background(), ent.key.String())
	if err != nil {
		return
	}

	var data any
	if err := json.Unmarshal(stored.Data, &data); err != nil {
		e.logger.Warn("discarding undecodable cache entry", map[string]interface{}{
			"key":   ent.key.String(),
			"error": err.Error(),
		})

		return
	}

	ent.mu.Lock()
	ent.updatedAt = stored.StoredAt
	ent.mu.Unlock()

	ent.state.Data.Set(data)
}

// needsFetch reports whether the entry is cold or past its freshness
// window.
func (e *Engine) needsFetch(ent *entry) bool {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.inflight != nil {
		return false
	}

	if ent.updatedAt.IsZero() || ent.stale {
		return true
	}

	staleTime := e.staleTime
	if ent.spec != nil && ent.spec.StaleTime > 0 {
		staleTime = ent.spec.StaleTime
	}

	return time.Since(ent.updatedAt) > staleTime
}

// fetch runs one deduplicated fetch cycle for the entry and settles the
// shared reactive state.
func (e *Engine) fetch(ctx context.Context, ent *entry) *opquery.FetchResult {
	ent.mu.Lock()

	if fl := ent.inflight; fl != nil {
		ent.mu.Unlock()
		<-fl.done

		return fl.result
	}

	fl := &inflight{done: make(chan struct{})}
	ent.inflight = fl
	spec := ent.spec
	ent.mu.Unlock()

	ent.state.Loading.Set(true)

	data, err := e.attempt(ctx, spec)

	result := &opquery.FetchResult{
		Data:      data,
		Err:       err,
		UpdatedAt: time.Now(),
	}

	ent.mu.Lock()
	ent.inflight = nil
	ent.cancel = nil

	if err == nil {
		ent.updatedAt = result.UpdatedAt
		ent.stale = false
	}
	ent.mu.Unlock()

	if err == nil {
		ent.state.Data.Set(data)
		ent.state.Err.Set(nil)
		e.store(ent.key, data)
	} else {
		ent.state.Err.Set(err)
	}

	ent.state.Loading.Set(false)

	if spec != nil {
		if err == nil && spec.OnSuccess != nil {
			spec.OnSuccess(data)
		}

		if err != nil && spec.OnError != nil {
			spec.OnError(err)
		}
	}

	fl.result = result
	close(fl.done)

	return result
}

// attempt runs the fetch with the spec's retry budget.
func (e *Engine) attempt(ctx context.Context, spec *opquery.QuerySpec) (any, error) {
	var (
		data any
		err  error
	)

	attempts := 1
	if spec.Retry > 0 {
		attempts += spec.Retry
	}

	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		data, err = spec.Fetch(ctx)
		if err == nil {
			return data, nil
		}
	}

	return nil, err
}

// store writes data through to the cache backend.
func (e *Engine) store(key opquery.CacheKey, data any) {
	if e.cache == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		e.logger.Warn("skipping cache write for unencodable payload", map[string]interface{}{
			"key":   key.String(),
			"error": err.Error(),
		})

		return
	}

	now := time.Now()

	cacheEntry := &opquery.CacheEntry{
		Data:     raw,
		StoredAt: now,
	}

	if e.cacheTTL > 0 {
		cacheEntry.ExpiresAt = now.Add(e.cacheTTL)
	}

	if err := e.cache.Set(context.Background(), key.String(), cacheEntry); err != nil {
		e.logger.Warn("cache write failed", map[string]interface{}{
			"key":   key.String(),
			"error": err.Error(),
		})
	}
}

// InvalidateQueries implements opquery.Engine: matching entries are
// marked stale, their stored copies dropped, and active ones refetched.
func (e *Engine) InvalidateQueries(ctx context.Context, pattern opquery.CacheKey) error {
	matched := e.match(pattern)

	for _, ent := range matched {
		ent.mu.Lock()
		ent.stale = true
		active := ent.refs > 0
		ent.mu.Unlock()

		if e.cache != nil {
			if err := e.cache.Delete(ctx, ent.key.String()); err != nil {
				e.logger.Warn("cache delete failed", map[string]interface{}{
					"key":   ent.key.String(),
					"error": err.Error(),
				})
			}
		}

		if active {
			e.fetch(ctx, ent)
		}
	}

	return e.dropStored(ctx, pattern)
}

// dropStored deletes stored entries matching pattern that have no live
// in-memory entry, so invalidation reaches keys only the backend knows.
func (e *Engine) dropStored(ctx context.Context, pattern opquery.CacheKey) error {
	if e.cache == nil {
		return nil
	}

	keys, err := e.cache.Keys(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if !storedKey(key).Matches(pattern) {
			continue
		}

		if err := e.cache.Delete(ctx, key); err != nil {
			e.logger.Warn("cache delete failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	return nil
}

// RefetchQueries implements opquery.Engine.
func (e *Engine) RefetchQueries(ctx context.Context, pattern opquery.CacheKey) error {
	for _, ent := range e.match(pattern) {
		ent.mu.Lock()
		active := ent.refs > 0 && ent.spec != nil
		ent.mu.Unlock()

		if active {
			e.fetch(ctx, ent)
		}
	}

	return nil
}

// SetQueryData implements opquery.Engine. Entries created here are
// passive: they hold data for future subscribers but fetch nothing.
func (e *Engine) SetQueryData(ctx context.Context, key opquery.CacheKey, data any) error {
	if len(key) == 0 {
		return opquery.ErrNilSubscriptionKey
	}

	e.mu.Lock()

	keyStr := key.String()

	ent, ok := e.entries[keyStr]
	if !ok {
		ent = &entry{
			key:   key.Clone(),
			state: opquery.NewQueryState(),
		}
		e.entries[keyStr] = ent
	}
	e.mu.Unlock()

	ent.mu.Lock()
	ent.updatedAt = time.Now()
	ent.stale = false
	ent.mu.Unlock()

	ent.state.Data.Set(data)
	ent.state.Err.Set(nil)

	e.store(ent.key, data)

	return nil
}

// CancelQueries implements opquery.Engine.
func (e *Engine) CancelQueries(ctx context.Context, pattern opquery.CacheKey) error {
	for _, ent := range e.match(pattern) {
		ent.mu.Lock()
		cancel := ent.cancel
		ent.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	}

	return nil
}

func (e *Engine) match(pattern opquery.CacheKey) []*entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	matched := make([]*entry, 0, len(e.entries))

	for _, ent := range e.entries {
		if ent.key.Matches(pattern) {
			matched = append(matched, ent)
		}
	}

	return matched
}

func (e *Engine) release(ent *entry) {
	ent.mu.Lock()
	if ent.refs > 0 {
		ent.refs--
	}

	drop := ent.refs == 0 && ent.updatedAt.IsZero()
	ent.mu.Unlock()

	// Entries that never settled carry nothing worth keeping.
	if drop {
		e.mu.Lock()
		delete(e.entries, ent.key.String())
		e.mu.Unlock()
	}
}

// storedKey splits a "/"-joined storage key back into segments. Segment
// values are path- or query-escaped before joining, so "/" only ever
// separates segments.
func storedKey(key string) opquery.CacheKey {
	return opquery.CacheKey(strings.Split(key, "/"))
}

// State implements opquery.Subscription.
func (s *subscription) State() *opquery.QueryState {
	return s.entry.state
}

// Refetch implements opquery.Subscription.
func (s *subscription) Refetch(ctx context.Context) (*opquery.FetchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.engine.fetch(ctx, s.entry)

	return result, nil
}

// Close implements opquery.Subscription.
func (s *subscription) Close() {
	s.closeOnce.Do(func() {
		s.engine.release(s.entry)
	})
}
