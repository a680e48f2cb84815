package opquery

import (
	"context"
	"time"

	"github.com/opquery-io/opquery/pkg/reactive"
)

// FetchFunc produces the body payload for one cache key. It must return
// the unwrapped body only, never a transport envelope.
type FetchFunc func(ctx context.Context) (any, error)

// QuerySpec is the engine's input for one query subscription.
type QuerySpec struct {
	// Key identifies the cache entry this subscription reads and writes.
	Key CacheKey

	// Fetch produces the body payload. The engine deduplicates
	// concurrent invocations per key.
	Fetch FetchFunc

	// StaleTime is how long a fetched result is served without a
	// background refetch. Zero means the engine's default.
	StaleTime time.Duration

	// Retry is the number of additional fetch attempts after a failure.
	Retry int

	// Meta is opaque caller metadata carried on the subscription.
	Meta map[string]any

	// OnSuccess and OnError are invoked after each settled fetch.
	OnSuccess func(data any)
	OnError   func(err error)
}

// QueryState is the reactive fetch state the engine maintains per
// subscription. The same cells are shared by every subscriber of a key.
type QueryState struct {
	Data    *reactive.Cell[any]
	Loading *reactive.Cell[bool]
	Err     *reactive.Cell[error]
}

// NewQueryState returns a QueryState with zero-valued cells.
func NewQueryState() *QueryState {
	return &QueryState{
		Data:    reactive.NewCell[any](nil),
		Loading: reactive.NewCell(false),
		Err:     reactive.NewCell[error](nil),
	}
}

// FetchResult is the engine's native result envelope for one settled
// fetch, returned unmodified from Refetch.
type FetchResult struct {
	Data      any
	Err       error
	UpdatedAt time.Time

	// FromCache is true when the result was served from storage without
	// a network fetch.
	FromCache bool
}

// IsError reports whether the fetch settled with an error.
func (r *FetchResult) IsError() bool {
	return r != nil && r.Err != nil
}

// Subscription is one live query registration with the engine.
type Subscription interface {
	// State returns the shared reactive fetch state for the key.
	State() *QueryState

	// Refetch forces a fetch and returns the engine's result envelope.
	Refetch(ctx context.Context) (*FetchResult, error)

	// Close releases the registration; the engine may drop the entry
	// once its last subscriber is gone.
	Close()
}

// Engine is the query/mutation execution engine contract the binding
// layer orchestrates: request dedup, stale-time bookkeeping, and cache
// storage live behind it.
type Engine interface {
	// Subscribe registers a query and triggers an initial fetch when the
	// entry is cold or stale.
	Subscribe(spec *QuerySpec) (Subscription, error)

	// InvalidateQueries marks every entry matching pattern (per
	// CacheKey.Matches) as stale and refetches the actively subscribed
	// ones.
	InvalidateQueries(ctx context.Context, pattern CacheKey) error

	// RefetchQueries forces a fetch of every actively subscribed entry
	// matching pattern.
	RefetchQueries(ctx context.Context, pattern CacheKey) error

	// SetQueryData writes data directly into the entry for key, creating
	// it when absent, without a network fetch.
	SetQueryData(ctx context.Context, key CacheKey, data any) error

	// CancelQueries cancels in-flight fetches for entries matching
	// pattern.
	CancelQueries(ctx context.Context, pattern CacheKey) error
}
