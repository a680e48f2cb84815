// Package binder implements the bound API surface: it turns registry
// operations plus parameter sources into live query and mutation handles,
// wiring path resolution, cache keys, enablement, and the invalidation
// fan-out between the transport and the execution engine.
package binder

import (
	"fmt"
	"net/http"

	"github.com/opquery-io/opquery/pkg/opquery"
)

// Binder is the shared state behind every handle created from one
// configuration. It implements opquery.API.
type Binder struct {
	registry       *opquery.Registry
	transport      opquery.Transport
	engine         opquery.Engine
	logger         opquery.Logger
	defaultRequest *opquery.RequestOptions
	metadata       map[string]any
}

// Config carries the collaborators a Binder needs. All fields except
// Logger, DefaultRequest, and Metadata are required.
type Config struct {
	Registry       *opquery.Registry
	Transport      opquery.Transport
	Engine         opquery.Engine
	Logger         opquery.Logger
	DefaultRequest *opquery.RequestOptions
	Metadata       map[string]any
}

// New creates a Binder over the given collaborators.
func New(cfg Config) (*Binder, error) {
	if cfg.Registry == nil {
		return nil, opquery.ErrRegistryRequired
	}

	if cfg.Transport == nil {
		return nil, opquery.ErrTransportRequired
	}

	if cfg.Engine == nil {
		return nil, opquery.ErrEngineRequired
	}

	logger := cfg.Logger
	if logger == nil {
		logger = opquery.NopLogger()
	}

	return &Binder{
		registry:       cfg.Registry,
		transport:      cfg.Transport,
		engine:         cfg.Engine,
		logger:         logger,
		defaultRequest: cfg.DefaultRequest,
		metadata:       cfg.Metadata,
	}, nil
}

// Query implements opquery.API.
func (b *Binder) Query(id opquery.OperationID, params opquery.Source, opts *opquery.QueryOptions) (opquery.QueryHandle, error) {
	info, ok := b.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", opquery.ErrUnknownOperation, id)
	}

	if info.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: %q is %s %s", opquery.ErrNotQueryOperation, id, info.Method, info.Path)
	}

	return newQueryEndpoint(b, id, info, params, opts), nil
}

// Mutation implements opquery.API.
func (b *Binder) Mutation(id opquery.OperationID, params opquery.Source, opts *opquery.MutationOptions) (opquery.MutationHandle, error) {
	info, ok := b.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", opquery.ErrUnknownOperation, id)
	}

	if info.Method == http.MethodGet {
		return nil, fmt.Errorf("%w: %q is GET %s", opquery.ErrNotMutation, id, info.Path)
	}

	return newMutationEndpoint(b, id, info, params, opts), nil
}

// Endpoint implements opquery.API: it classifies the operation by method
// and forwards the matching options unchanged.
func (b *Binder) Endpoint(id opquery.OperationID, params opquery.Source, opts *opquery.EndpointOptions) (*opquery.Endpoint, error) {
	isQuery, err := b.registry.IsQueryOperation(id)
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &opquery.EndpointOptions{}
	}

	if isQuery {
		handle, err := b.Query(id, params, opts.Query)
		if err != nil {
			return nil, err
		}

		return &opquery.Endpoint{Kind: opquery.KindQuery, Query: handle}, nil
	}

	handle, err := b.Mutation(id, params, opts.Mutation)
	if err != nil {
		return nil, err
	}

	return &opquery.Endpoint{Kind: opquery.KindMutation, Mutation: handle}, nil
}

// IsQueryOperation implements opquery.API.
func (b *Binder) IsQueryOperation(id opquery.OperationID) (bool, error) {
	return b.registry.IsQueryOperation(id)
}

// Registry implements opquery.API.
func (b *Binder) Registry() *opquery.Registry {
	return b.registry
}

// Engine implements opquery.API.
func (b *Binder) Engine() opquery.Engine {
	return b.engine
}

// Metadata implements opquery.API.
func (b *Binder) Metadata() map[string]any {
	return b.metadata
}
