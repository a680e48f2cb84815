package opquery

import (
	"maps"
	"time"
)

// RequestOptions is the outbound request configuration attached to an
// endpoint or to a single call. It mirrors the transport's recognized
// options and carries an open-ended Extra bag for everything else; the
// binding layer never rejects or strips unknown properties.
//
// Merging is per key, never wholesale: call-time values win over
// endpoint-level values, and headers merge per header name.
type RequestOptions struct {
	// Headers are merged per header name over endpoint-level and
	// transport-default headers.
	Headers map[string]string

	// Query parameters appended to the resolved URL. Values are
	// stringified; slices produce repeated keys.
	Query Params

	// Timeout bounds the request via a derived context when positive.
	Timeout time.Duration

	// BaseURL overrides the transport's configured base URL.
	BaseURL string

	// BearerToken overrides the transport's token source for this
	// request's Authorization header.
	BearerToken string

	// ValidateStatus overrides the default "status < 400 is success"
	// rule when non-nil.
	ValidateStatus func(status int) bool

	// Extra holds arbitrary caller-defined extension properties. They are
	// forwarded to the transport verbatim (as Request.Metadata) and are
	// visible to interceptors.
	Extra map[string]any
}

// Merge layers override on top of o, key by key, and returns the result.
// Neither receiver nor argument is modified; either may be nil.
func (o *RequestOptions) Merge(override *RequestOptions) *RequestOptions {
	if o == nil && override == nil {
		return nil
	}

	merged := &RequestOptions{}

	if o != nil {
		merged.Headers = maps.Clone(o.Headers)
		merged.Query = maps.Clone(o.Query)
		merged.Timeout = o.Timeout
		merged.BaseURL = o.BaseURL
		merged.BearerToken = o.BearerToken
		merged.ValidateStatus = o.ValidateStatus
		merged.Extra = maps.Clone(o.Extra)
	}

	if override == nil {
		return merged
	}

	if len(override.Headers) > 0 {
		if merged.Headers == nil {
			merged.Headers = make(map[string]string, len(override.Headers))
		}

		maps.Copy(merged.Headers, override.Headers)
	}

	if len(override.Query) > 0 {
		if merged.Query == nil {
			merged.Query = make(Params, len(override.Query))
		}

		maps.Copy(merged.Query, override.Query)
	}

	if override.Timeout > 0 {
		merged.Timeout = override.Timeout
	}

	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}

	if override.BearerToken != "" {
		merged.BearerToken = override.BearerToken
	}

	if override.ValidateStatus != nil {
		merged.ValidateStatus = override.ValidateStatus
	}

	if len(override.Extra) > 0 {
		if merged.Extra == nil {
			merged.Extra = make(map[string]any, len(override.Extra))
		}

		maps.Copy(merged.Extra, override.Extra)
	}

	return merged
}

// InvalidationSpec names the operations whose cached results a successful
// mutation should invalidate. A nil Params value invalidates every cached
// variant of the operation; a non-nil value invalidates only entries whose
// key derives from those parameters.
type InvalidationSpec map[OperationID]Params

// InvalidateAll builds a spec that invalidates the named operations
// unconstrained by parameters.
func InvalidateAll(ids ...OperationID) InvalidationSpec {
	spec := make(InvalidationSpec, len(ids))
	for _, id := range ids {
		spec[id] = nil
	}

	return spec
}

// Merge layers override on top of s per operation and returns the result.
func (s InvalidationSpec) Merge(override InvalidationSpec) InvalidationSpec {
	if s == nil && override == nil {
		return nil
	}

	merged := make(InvalidationSpec, len(s)+len(override))
	maps.Copy(merged, s)
	maps.Copy(merged, override)

	return merged
}

// QueryOptions configures a query endpoint.
type QueryOptions struct {
	// Enabled gates fetching in addition to path resolution. A nil
	// Condition means enabled; the query only runs while both this
	// condition holds and every path placeholder is resolved.
	Enabled Condition

	// OnLoad fires exactly once with the fetched data on the first
	// success after a cold start. Repeated refetches do not re-fire it.
	OnLoad func(data any)

	// ErrorHandler is called with transport/HTTP errors before standard
	// propagation. A non-nil return value replaces the error; a nil
	// return keeps the original.
	ErrorHandler func(err error) error

	// Select transforms the unwrapped body before it reaches the data
	// cell and the cache.
	Select func(data any) any

	// StaleTime, Retry, and Meta are forwarded to the execution engine.
	StaleTime time.Duration
	Retry     int
	Meta      map[string]any

	// OnSuccess and OnError are lifecycle callbacks forwarded to the
	// engine, invoked after each settled fetch.
	OnSuccess func(data any)
	OnError   func(err error)

	// Request is the endpoint-level outbound request configuration.
	Request *RequestOptions
}

// MutationOptions configures a mutation endpoint.
type MutationOptions struct {
	// ExtraPathParams supplements the endpoint's parameter source; its
	// values win over the source's on conflicts and call-time overrides
	// win over both.
	ExtraPathParams Source

	// InvalidateOperations overrides the orchestrator's computed default
	// fan-out. Merged with any per-call spec, call-time entries winning.
	InvalidateOperations InvalidationSpec

	// RefetchEndpoints are already-constructed query handles to refetch
	// directly after success, for targets not expressible as operation
	// plus parameters.
	RefetchEndpoints []QueryHandle

	// DontInvalidate skips the invalidation fan-out entirely.
	DontInvalidate bool

	// DontUpdateCache skips the optimistic write of the response body to
	// this operation's query-equivalent cache entry.
	DontUpdateCache bool

	// ErrorHandler mirrors QueryOptions.ErrorHandler for mutation calls.
	ErrorHandler func(err error) error

	// Request is the endpoint-level outbound request configuration.
	Request *RequestOptions
}

// MutateRequest is the per-call input to a mutation.
type MutateRequest struct {
	// Data is the request body.
	Data any

	// PathParams are call-time path parameter overrides; they win over
	// the endpoint-level source and ExtraPathParams.
	PathParams Params

	// InvalidateOperations merges over the endpoint-level spec for this
	// call only.
	InvalidateOperations InvalidationSpec

	// RefetchEndpoints are refetched in addition to the endpoint-level
	// list.
	RefetchEndpoints []QueryHandle

	// Request is the call-time outbound request configuration; its keys
	// win over the endpoint-level configuration.
	Request *RequestOptions
}

// EndpointOptions carries the specialized options for the auto-dispatching
// Endpoint constructor, which forwards the matching set unchanged.
type EndpointOptions struct {
	Query    *QueryOptions
	Mutation *MutationOptions
}
