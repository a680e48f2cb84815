package binder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/opquery-io/opquery/internal/resolve"
	"github.com/opquery-io/opquery/pkg/opquery"
	"github.com/opquery-io/opquery/pkg/reactive"
)

// queryEndpoint is the live state behind one QueryHandle. It owns the
// handle-level reactive cells and keeps exactly one engine subscription
// alive while the endpoint is enabled, re-subscribing whenever the cache
// key changes under it.
type queryEndpoint struct {
	binder *Binder
	id     opquery.OperationID
	info   opquery.OperationInfo
	source opquery.Source
	opts   opquery.QueryOptions

	// endpointRequest is the client default configuration merged with the
	// endpoint-level configuration, fixed at construction.
	endpointRequest *opquery.RequestOptions

	data    *reactive.Cell[any]
	loading *reactive.Cell[bool]
	errCell *reactive.Cell[error]

	pathParams *reactive.Derived[opquery.ResolvedPath]
	enabled    *reactive.Derived[bool]
	key        *reactive.Derived[opquery.CacheKey]

	mu            sync.Mutex
	closed        bool
	sub           opquery.Subscription
	subKey        string
	loadFired     bool
	onLoadFns     []func(any)
	reactCancels  []func()
	bridgeCancels []func()
}

func newQueryEndpoint(b *Binder, id opquery.OperationID, info opquery.OperationInfo, source opquery.Source, opts *opquery.QueryOptions) *queryEndpoint {
	e := &queryEndpoint{
		binder:  b,
		id:      id,
		info:    info,
		source:  source,
		data:    reactive.NewCell[any](nil),
		loading: reactive.NewCell(false),
		errCell: reactive.NewCell[error](nil),
	}

	if opts != nil {
		e.opts = *opts
	}

	e.endpointRequest = b.defaultRequest.Merge(e.opts.Request)

	if e.opts.OnLoad != nil {
		e.onLoadFns = append(e.onLoadFns, e.opts.OnLoad)
	}

	deps := observableDeps(source, e.opts.Enabled)

	e.pathParams = reactive.Derive(e.resolveNow, deps...)
	e.enabled = reactive.Derive(e.enabledNow, deps...)
	e.key = reactive.Derive(e.keyNow, deps...)

	for _, dep := range deps {
		e.reactCancels = append(e.reactCancels, dep.OnChange(e.sync))
	}

	e.sync()

	return e
}

// observableDeps collects the reactive dependencies behind a parameter
// source and an enabled condition. Static and function-backed values
// contribute nothing; they are re-read on every evaluation instead.
func observableDeps(source opquery.Source, cond opquery.Condition) []reactive.Observable {
	var deps []reactive.Observable

	if source != nil {
		if obs, ok := opquery.ObservableOf(source); ok {
			deps = append(deps, obs)
		}
	}

	if cond != nil {
		if obs, ok := opquery.ObservableOf(cond); ok {
			deps = append(deps, obs)
		}
	}

	return deps
}

func (e *queryEndpoint) currentParams() opquery.Params {
	if e.source == nil {
		return nil
	}

	return e.source.Current()
}

func (e *queryEndpoint) resolveNow() opquery.ResolvedPath {
	return resolve.Path(e.info.Path, e.currentParams())
}

func (e *queryEndpoint) enabledNow() bool {
	if e.opts.Enabled != nil && !e.opts.Enabled.Current() {
		return false
	}

	return e.resolveNow().FullyResolved
}

func (e *queryEndpoint) keyNow() opquery.CacheKey {
	resolved := e.resolveNow()

	var query map[string]any
	if e.endpointRequest != nil {
		query = e.endpointRequest.Query
	}

	return resolve.Key(e.info.Path, resolved.Values, resolve.QueryValues(query))
}

// sync reconciles the engine subscription with the current enablement
// and cache key. It runs at construction and after every reactive tick
// of the parameter source or the enabled condition.
func (e *queryEndpoint) sync() {
	enabled := e.enabledNow()
	key := e.keyNow()

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	if !enabled {
		sub, bridges := e.detachLocked()

		// A disabled handle with no data is back at a cold start, so the
		// next first success fires onLoad again.
		if e.data.Get() == nil {
			e.loadFired = false
		}
		e.mu.Unlock()

		closeAll(bridges, sub)
		e.loading.Set(false)

		return
	}

	keyStr := key.String()
	if e.sub != nil && e.subKey == keyStr {
		e.mu.Unlock()

		return
	}

	sub, bridges := e.detachLocked()
	e.subKey = keyStr
	e.mu.Unlock()

	closeAll(bridges, sub)
	e.subscribe(key)
}

// detachLocked clears the current subscription and bridge registrations
// and returns them for the caller to close outside the lock.
func (e *queryEndpoint) detachLocked() (opquery.Subscription, []func()) {
	sub := e.sub
	bridges := e.bridgeCancels
	e.sub = nil
	e.bridgeCancels = nil

	return sub, bridges
}

func closeAll(bridges []func(), sub opquery.Subscription) {
	for _, cancel := range bridges {
		cancel()
	}

	if sub != nil {
		sub.Close()
	}
}

func (e *queryEndpoint) subscribe(key opquery.CacheKey) {
	spec := &opquery.QuerySpec{
		Key:       key,
		Fetch:     e.fetch,
		StaleTime: e.opts.StaleTime,
		Retry:     e.opts.Retry,
		Meta:      e.opts.Meta,
		OnSuccess: e.opts.OnSuccess,
		OnError:   e.opts.OnError,
	}

	sub, err := e.binder.engine.Subscribe(spec)
	if err != nil {
		e.errCell.Set(err)

		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.Close()

		return
	}

	e.sub = sub
	e.mu.Unlock()

	e.bridge(sub.State())
}

// bridge mirrors the engine's shared per-key state into the handle's own
// cells, so consumers keep one stable set of cells across key changes.
func (e *queryEndpoint) bridge(state *opquery.QueryState) {
	cancels := []func(){
		state.Data.Subscribe(func(v any) {
			e.data.Set(v)

			if v != nil {
				e.fireLoad(v)
			}
		}),
		state.Loading.Subscribe(e.loading.Set),
		state.Err.Subscribe(e.errCell.Set),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}

		return
	}

	e.bridgeCancels = append(e.bridgeCancels, cancels...)
	e.mu.Unlock()

	// Seed from whatever the shared state already holds.
	if v := state.Data.Get(); v != nil {
		e.data.Set(v)
		e.fireLoad(v)
	}

	e.loading.Set(state.Loading.Get())
	e.errCell.Set(state.Err.Get())
}

func (e *queryEndpoint) fireLoad(data any) {
	e.mu.Lock()

	if e.loadFired || e.closed {
		e.mu.Unlock()

		return
	}

	e.loadFired = true
	fns := make([]func(any), len(e.onLoadFns))
	copy(fns, e.onLoadFns)
	e.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

// fetch resolves the path at dispatch time and issues the request. The
// engine owns dedup and retries; this function owns resolution, decoding,
// Select, and the error handler.
func (e *queryEndpoint) fetch(ctx context.Context) (any, error) {
	resolved := e.resolveNow()
	if !resolved.FullyResolved {
		return nil, fmt.Errorf("%w: missing %s", opquery.ErrParamsUnresolved, strings.Join(resolved.Missing, ", "))
	}

	req := buildRequest(http.MethodGet, resolved.URL, nil, e.endpointRequest)

	_, data, err := e.binder.dispatch(ctx, req, e.endpointRequest)
	if err != nil {
		return nil, applyErrorHandler(e.opts.ErrorHandler, err)
	}

	if e.opts.Select != nil {
		data = e.opts.Select(data)
	}

	return data, nil
}

// Data implements opquery.QueryHandle.
func (e *queryEndpoint) Data() *reactive.Cell[any] {
	return e.data
}

// Loading implements opquery.QueryHandle.
func (e *queryEndpoint) Loading() *reactive.Cell[bool] {
	return e.loading
}

// Err implements opquery.QueryHandle.
func (e *queryEndpoint) Err() *reactive.Cell[error] {
	return e.errCell
}

// Enabled implements opquery.QueryHandle.
func (e *queryEndpoint) Enabled() *reactive.Derived[bool] {
	return e.enabled
}

// Key implements opquery.QueryHandle.
func (e *queryEndpoint) Key() *reactive.Derived[opquery.CacheKey] {
	return e.key
}

// PathParams implements opquery.QueryHandle.
func (e *queryEndpoint) PathParams() *reactive.Derived[opquery.ResolvedPath] {
	return e.pathParams
}

// Refetch implements opquery.QueryHandle.
func (e *queryEndpoint) Refetch(ctx context.Context) (*opquery.FetchResult, error) {
	e.mu.Lock()
	closed := e.closed
	sub := e.sub
	e.mu.Unlock()

	if closed {
		return nil, opquery.ErrHandleClosed
	}

	if sub == nil {
		// Function-backed sources emit no change ticks; a source that
		// started resolving after construction is first observed here.
		e.sync()

		e.mu.Lock()
		sub = e.sub
		e.mu.Unlock()
	}

	if sub == nil {
		return nil, opquery.ErrQueryDisabled
	}

	return sub.Refetch(ctx)
}

// OnLoad implements opquery.QueryHandle. Registrations made after the
// first success fire immediately with the current data.
func (e *queryEndpoint) OnLoad(fn func(data any)) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	if e.loadFired {
		e.mu.Unlock()

		if v := e.data.Get(); v != nil {
			fn(v)
		}

		return
	}

	e.onLoadFns = append(e.onLoadFns, fn)
	e.mu.Unlock()
}

// Close implements opquery.QueryHandle.
func (e *queryEndpoint) Close() {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	e.closed = true
	sub, bridges := e.detachLocked()
	reacts := e.reactCancels
	e.reactCancels = nil
	e.mu.Unlock()

	for _, cancel := range reacts {
		cancel()
	}

	closeAll(bridges, sub)
}
