package opquery

import (
	"context"

	"github.com/opquery-io/opquery/pkg/reactive"
)

// QueryHandle is a live, reactive handle bound to one GET operation plus a
// parameter source. Its lifetime is owned by the caller: Close releases
// the subscriptions to the parameter source and the execution engine.
type QueryHandle interface {
	// Data holds the unwrapped response body (after Select, when set).
	Data() *reactive.Cell[any]

	// Loading is true while a fetch is in flight.
	Loading() *reactive.Cell[bool]

	// Err holds the latest transport/HTTP error, nil after a success.
	Err() *reactive.Cell[error]

	// Enabled is true only while every path placeholder resolves and the
	// caller-supplied enabled condition holds.
	Enabled() *reactive.Derived[bool]

	// Key is the cache key derived from the current parameter values.
	Key() *reactive.Derived[CacheKey]

	// PathParams is the current path resolution.
	PathParams() *reactive.Derived[ResolvedPath]

	// Refetch delegates to the execution engine and returns its native
	// result envelope unmodified.
	Refetch(ctx context.Context) (*FetchResult, error)

	// OnLoad registers a callback fired exactly once with the fetched
	// data on the first success after a cold start.
	OnLoad(fn func(data any))

	// Close releases every subscription held by the handle.
	Close()
}

// MutationHandle is a live handle bound to one non-GET operation plus a
// parameter source.
type MutationHandle interface {
	// Mutate fires the mutation and discards its result. Calling while
	// the handle is disabled is a no-op.
	Mutate(ctx context.Context, req *MutateRequest)

	// MutateAsync fires the mutation and returns the full transport
	// envelope. Calling with unresolved required path parameters fails
	// with ErrParamsUnresolved before any request is issued.
	MutateAsync(ctx context.Context, req *MutateRequest) (*Response, error)

	// Data holds the unwrapped body of the last successful mutation.
	Data() *reactive.Cell[any]

	// Err holds the error of the last failed mutation.
	Err() *reactive.Cell[error]

	// Enabled is true only while every path placeholder resolves from
	// the endpoint-level sources.
	Enabled() *reactive.Derived[bool]

	// PathParams is the current path resolution from the endpoint-level
	// sources.
	PathParams() *reactive.Derived[ResolvedPath]

	// ExtraPathParams returns the current values of the supplemental
	// parameter source, nil when none was configured.
	ExtraPathParams() Params

	// Close releases every subscription held by the handle.
	Close()
}

// EndpointKind discriminates the two handle shapes.
type EndpointKind int

const (
	// KindQuery marks an endpoint bound to a GET operation.
	KindQuery EndpointKind = iota

	// KindMutation marks an endpoint bound to a POST/PUT/PATCH/DELETE
	// operation.
	KindMutation
)

// String returns the kind's name.
func (k EndpointKind) String() string {
	if k == KindQuery {
		return "query"
	}

	return "mutation"
}

// Endpoint is the tagged union returned by the auto-dispatching
// constructor: exactly one of Query or Mutation is non-nil, matching Kind.
type Endpoint struct {
	Kind     EndpointKind
	Query    QueryHandle
	Mutation MutationHandle
}

// Close closes whichever handle the endpoint carries.
func (e *Endpoint) Close() {
	switch e.Kind {
	case KindQuery:
		if e.Query != nil {
			e.Query.Close()
		}
	case KindMutation:
		if e.Mutation != nil {
			e.Mutation.Close()
		}
	}
}

// API is the bound surface produced by the factory: per-operation handle
// constructors plus method classification. Implementations share one
// registry, one transport, and one engine across every handle they create.
type API interface {
	// Query builds a QueryHandle for a GET operation. It fails fast with
	// ErrUnknownOperation or ErrNotQueryOperation.
	Query(id OperationID, params Source, opts *QueryOptions) (QueryHandle, error)

	// Mutation builds a MutationHandle for a non-GET operation. It fails
	// fast with ErrUnknownOperation or ErrNotMutation.
	Mutation(id OperationID, params Source, opts *MutationOptions) (MutationHandle, error)

	// Endpoint classifies the operation by method and dispatches to
	// Query or Mutation, forwarding the matching options unchanged.
	Endpoint(id OperationID, params Source, opts *EndpointOptions) (*Endpoint, error)

	// IsQueryOperation classifies an operation without constructing an
	// endpoint.
	IsQueryOperation(id OperationID) (bool, error)

	// Registry returns the shared read-only operation registry.
	Registry() *Registry

	// Engine returns the shared execution engine.
	Engine() Engine

	// Metadata returns the optional configuration metadata supplied at
	// construction.
	Metadata() map[string]any
}
