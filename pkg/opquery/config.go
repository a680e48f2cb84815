package opquery

import (
	"context"
	"time"
)

// TokenFunc supplies a bearer token per request, for callers whose
// credentials rotate.
type TokenFunc func(ctx context.Context) (string, error)

// Config represents the configuration for building a bound API.
//
// # Required fields
//
// Registry is the read-only operation map the API is bound to. BaseURL is
// the API origin every resolved path is joined to; opclient.New normalizes
// it by trimming a trailing slash and adding "https://" when no scheme is
// present. BaseURL may be omitted only when a custom Transport is
// supplied.
//
// # Collaborators
//
// Transport, Engine, and Cache are all optional: opclient.New builds a
// retrying HTTP transport, an in-memory execution engine, and a memory
// cache when they are nil. Supplying your own lets multiple independently
// configured APIs share storage, or swaps the cache for a NATS KV bucket
// shared across processes.
type Config struct {
	// Registry is the operation map this API is bound to.
	Registry *Registry `validate:"required"`

	// BaseURL is the API origin, e.g. "https://api.example.com".
	BaseURL string

	// Transport overrides the default HTTP transport.
	Transport Transport

	// Engine overrides the default execution engine.
	Engine Engine

	// Cache is the storage behind the default engine. Ignored when
	// Engine is set.
	Cache Cache

	// Logger: optional structured logger used by the transport and the
	// invalidation orchestrator.
	Logger Logger

	// AccessToken: if set, sent as a static Bearer token.
	AccessToken string

	// TokenFunc: if set, queried per request for the Bearer token; wins
	// over AccessToken.
	TokenFunc TokenFunc

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// RetryMax: maximum number of transport retries for transient
	// failures (>=500, 429, and connection errors). If 0, a sensible
	// default is used.
	RetryMax int

	// RetryWaitMin: minimum backoff between retries.
	RetryWaitMin time.Duration

	// RetryWaitMax: maximum backoff between retries.
	RetryWaitMax time.Duration

	// Debug enables verbose request/response logging when a Logger is
	// provided.
	Debug bool

	// DefaultStaleTime is the engine's stale window for queries that do
	// not set their own.
	DefaultStaleTime time.Duration

	// DefaultRequest is the transport-level request configuration merged
	// under every endpoint- and call-level configuration.
	DefaultRequest *RequestOptions

	// Metadata is optional configuration metadata (enum tables, feature
	// hints) exposed unchanged through API.Metadata.
	Metadata map[string]any
}
