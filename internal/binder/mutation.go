package binder

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/opquery-io/opquery/internal/resolve"
	"github.com/opquery-io/opquery/pkg/opquery"
	"github.com/opquery-io/opquery/pkg/reactive"
)

// mutationEndpoint is the live state behind one MutationHandle. Unlike a
// query endpoint it holds no engine subscription; it talks to the engine
// only through the post-success invalidation fan-out.
type mutationEndpoint struct {
	binder *Binder
	id     opquery.OperationID
	info   opquery.OperationInfo
	source opquery.Source
	opts   opquery.MutationOptions

	endpointRequest *opquery.RequestOptions

	data    *reactive.Cell[any]
	errCell *reactive.Cell[error]

	pathParams *reactive.Derived[opquery.ResolvedPath]
	enabled    *reactive.Derived[bool]

	mu     sync.Mutex
	closed bool
}

func newMutationEndpoint(b *Binder, id opquery.OperationID, info opquery.OperationInfo, source opquery.Source, opts *opquery.MutationOptions) *mutationEndpoint {
	e := &mutationEndpoint{
		binder:  b,
		id:      id,
		info:    info,
		source:  source,
		data:    reactive.NewCell[any](nil),
		errCell: reactive.NewCell[error](nil),
	}

	if opts != nil {
		e.opts = *opts
	}

	e.endpointRequest = b.defaultRequest.Merge(e.opts.Request)

	deps := observableDeps(source, nil)
	if e.opts.ExtraPathParams != nil {
		if obs, ok := opquery.ObservableOf(e.opts.ExtraPathParams); ok {
			deps = append(deps, obs)
		}
	}

	e.pathParams = reactive.Derive(e.resolveNow, deps...)
	e.enabled = reactive.Derive(func() bool {
		return e.resolveNow().FullyResolved
	}, deps...)

	return e
}

// endpointParams merges the endpoint-level parameter sources: the base
// source first, then ExtraPathParams winning on conflicts.
func (e *mutationEndpoint) endpointParams() opquery.Params {
	var merged opquery.Params

	if e.source != nil {
		if base := e.source.Current(); len(base) > 0 {
			merged = maps.Clone(base)
		}
	}

	if e.opts.ExtraPathParams != nil {
		if extra := e.opts.ExtraPathParams.Current(); len(extra) > 0 {
			if merged == nil {
				merged = make(opquery.Params, len(extra))
			}

			maps.Copy(merged, extra)
		}
	}

	return merged
}

func (e *mutationEndpoint) resolveNow() opquery.ResolvedPath {
	return resolve.Path(e.info.Path, e.endpointParams())
}

// callParams layers call-time overrides over the endpoint-level merge.
func (e *mutationEndpoint) callParams(req *opquery.MutateRequest) opquery.Params {
	merged := e.endpointParams()

	if req != nil && len(req.PathParams) > 0 {
		if merged == nil {
			merged = make(opquery.Params, len(req.PathParams))
		} else {
			merged = maps.Clone(merged)
		}

		maps.Copy(merged, req.PathParams)
	}

	return merged
}

// Mutate implements opquery.MutationHandle. Unresolved parameters make
// the call a no-op instead of an error.
func (e *mutationEndpoint) Mutate(ctx context.Context, req *opquery.MutateRequest) {
	resolved := resolve.Path(e.info.Path, e.callParams(req))
	if !resolved.FullyResolved {
		e.binder.logger.Debug("skipping disabled mutation", map[string]interface{}{
			"operation": string(e.id),
			"missing":   strings.Join(resolved.Missing, ", "),
		})

		return
	}

	_, _ = e.MutateAsync(ctx, req)
}

// MutateAsync implements opquery.MutationHandle.
func (e *mutationEndpoint) MutateAsync(ctx context.Context, req *opquery.MutateRequest) (*opquery.Response, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return nil, opquery.ErrHandleClosed
	}

	if req == nil {
		req = &opquery.MutateRequest{}
	}

	params := e.callParams(req)

	resolved := resolve.Path(e.info.Path, params)
	if !resolved.FullyResolved {
		err := fmt.Errorf("%w: missing %s", opquery.ErrParamsUnresolved, strings.Join(resolved.Missing, ", "))
		e.errCell.Set(err)

		return nil, err
	}

	requestOpts := e.endpointRequest.Merge(req.Request)

	transportReq := buildRequest(e.info.Method, resolved.URL, req.Data, requestOpts)

	resp, data, err := e.binder.dispatch(ctx, transportReq, requestOpts)
	if err != nil {
		err = applyErrorHandler(e.opts.ErrorHandler, err)
		e.errCell.Set(err)

		return resp, err
	}

	e.data.Set(data)
	e.errCell.Set(nil)

	e.binder.settleMutation(ctx, e, req, resolved.Values, data)

	return resp, nil
}

// settleMutation runs the post-success sequence: cancel competing
// fetches, write the response through to the operation's query-equivalent
// entry, fan out invalidation, then refetch the explicitly named handles.
// Every step is best effort; failures are logged and never surfaced to
// the mutation caller.
func (b *Binder) settleMutation(ctx context.Context, e *mutationEndpoint, req *opquery.MutateRequest, values map[string]string, data any) {
	targets := b.invalidationTargets(e, req, values)

	for _, target := range targets {
		if err := b.engine.CancelQueries(ctx, target); err != nil {
			b.logMutationStep(e.id, "cancel", target, err)
		}
	}

	if !e.opts.DontUpdateCache && data != nil {
		key := resolve.Key(e.info.Path, values, nil)
		if err := b.engine.SetQueryData(ctx, key, data); err != nil {
			b.logMutationStep(e.id, "cache update", key, err)
		}
	}

	for _, target := range targets {
		if err := b.engine.InvalidateQueries(ctx, target); err != nil {
			b.logMutationStep(e.id, "invalidate", target, err)
		}
	}

	handles := make([]opquery.QueryHandle, 0, len(e.opts.RefetchEndpoints)+len(req.RefetchEndpoints))
	handles = append(handles, e.opts.RefetchEndpoints...)
	handles = append(handles, req.RefetchEndpoints...)

	for _, handle := range handles {
		if handle == nil {
			continue
		}

		if _, err := handle.Refetch(ctx); err != nil {
			b.logger.Warn("post-mutation refetch failed", map[string]interface{}{
				"operation": string(e.id),
				"error":     err.Error(),
			})
		}
	}
}

// invalidationTargets computes the key patterns a successful mutation
// invalidates. An explicit spec (endpoint-level merged with call-time,
// call-time winning) replaces the default; the default is the operation's
// list sibling scoped by the resolved parameter values. Explicit entries
// use the named operation's full template skeleton, so a partially
// constrained entry reaches every one of that operation's keys and none
// of the other operations sharing its leading segments.
func (b *Binder) invalidationTargets(e *mutationEndpoint, req *opquery.MutateRequest, values map[string]string) []opquery.CacheKey {
	if e.opts.DontInvalidate {
		return nil
	}

	spec := e.opts.InvalidateOperations.Merge(req.InvalidateOperations)

	if len(spec) == 0 {
		listID, ok := b.registry.ListOperationFor(e.id)
		if !ok {
			return nil
		}

		// Scope the default to the parameters the mutation ran with, so a
		// nested collection invalidates only the parent it belongs to.
		info, _ := b.registry.Lookup(listID)

		return []opquery.CacheKey{resolve.PrefixKey(info.Path, values)}
	}

	targets := make([]opquery.CacheKey, 0, len(spec))

	for id, params := range spec {
		info, ok := b.registry.Lookup(id)
		if !ok {
			b.logger.Warn("skipping invalidation of unknown operation", map[string]interface{}{
				"operation": string(id),
			})

			continue
		}

		scope := resolve.StringValues(params)
		targets = append(targets, resolve.TemplateKey(info.Path, scope))
	}

	return targets
}

func (b *Binder) logMutationStep(id opquery.OperationID, step string, key opquery.CacheKey, err error) {
	b.logger.Warn("post-mutation "+step+" failed", map[string]interface{}{
		"operation": string(id),
		"key":       key.String(),
		"error":     err.Error(),
	})
}

// Data implements opquery.MutationHandle.
func (e *mutationEndpoint) Data() *reactive.Cell[any] {
	return e.data
}

// Err implements opquery.MutationHandle.
func (e *mutationEndpoint) Err() *reactive.Cell[error] {
	return e.errCell
}

// Enabled implements opquery.MutationHandle.
func (e *mutationEndpoint) Enabled() *reactive.Derived[bool] {
	return e.enabled
}

// PathParams implements opquery.MutationHandle.
func (e *mutationEndpoint) PathParams() *reactive.Derived[opquery.ResolvedPath] {
	return e.pathParams
}

// ExtraPathParams implements opquery.MutationHandle.
func (e *mutationEndpoint) ExtraPathParams() opquery.Params {
	if e.opts.ExtraPathParams == nil {
		return nil
	}

	return e.opts.ExtraPathParams.Current()
}

// Close implements opquery.MutationHandle. The endpoint holds no
// subscriptions of its own; closing only rejects further calls.
func (e *mutationEndpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
}
