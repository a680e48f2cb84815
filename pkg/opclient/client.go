// Package opclient creates bound API surfaces from a configuration: it
// validates the configuration, fills in the default transport, engine,
// and cache, and returns the opquery.API facade.
package opclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opquery-io/opquery/internal/auth"
	"github.com/opquery-io/opquery/internal/binder"
	"github.com/opquery-io/opquery/internal/constants"
	"github.com/opquery-io/opquery/internal/engine"
	"github.com/opquery-io/opquery/internal/registry"
	"github.com/opquery-io/opquery/internal/transport"
	"github.com/opquery-io/opquery/pkg/opquery"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates a bound API from the given configuration. Missing
// collaborators get defaults: a retrying HTTP transport, an in-memory
// execution engine, and a memory cache. ctx is reserved for future
// connection establishment and is currently unused.
func New(ctx context.Context, config *opquery.Config) (opquery.API, error) {
	if config == nil {
		return nil, opquery.ErrConfigRequired
	}

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %v", opquery.ErrRegistryRequired, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = opquery.NopLogger()
	}

	tport := config.Transport
	if tport == nil {
		built, err := buildTransport(config, logger)
		if err != nil {
			return nil, err
		}

		tport = built
	}

	eng := config.Engine
	if eng == nil {
		cache := config.Cache
		if cache == nil {
			cache = opquery.NewMemoryCache(constants.DefaultCacheSize)
		}

		staleTime := config.DefaultStaleTime
		if staleTime <= 0 {
			staleTime = constants.DefaultStaleTime
		}

		eng = engine.New(
			engine.WithCache(cache),
			engine.WithLogger(logger),
			engine.WithStaleTime(staleTime),
		)
	}

	return binder.New(binder.Config{
		Registry:       config.Registry,
		Transport:      tport,
		Engine:         eng,
		Logger:         logger,
		DefaultRequest: config.DefaultRequest,
		Metadata:       config.Metadata,
	})
}

// NewWithToken creates a bound API for the common case of a registry, a
// base URL, and a static bearer token.
func NewWithToken(ctx context.Context, reg *opquery.Registry, baseURL, token string) (opquery.API, error) {
	return New(ctx, &opquery.Config{
		Registry:    reg,
		BaseURL:     baseURL,
		AccessToken: token,
	})
}

// NewFromSpecFile builds the registry from an OpenAPI document on disk
// and creates a bound API over it. The document's operations become the
// registry; config.Registry is overwritten.
func NewFromSpecFile(ctx context.Context, specPath string, config *opquery.Config) (opquery.API, error) {
	if config == nil {
		return nil, opquery.ErrConfigRequired
	}

	reg, err := registry.LoadFromFile(specPath)
	if err != nil {
		return nil, err
	}

	withRegistry := *config
	withRegistry.Registry = reg

	return New(ctx, &withRegistry)
}

// NewFromSpecData is NewFromSpecFile for an in-memory OpenAPI document.
func NewFromSpecData(ctx context.Context, specData []byte, config *opquery.Config) (opquery.API, error) {
	if config == nil {
		return nil, opquery.ErrConfigRequired
	}

	reg, err := registry.LoadFromData(specData)
	if err != nil {
		return nil, err
	}

	withRegistry := *config
	withRegistry.Registry = reg

	return New(ctx, &withRegistry)
}

func buildTransport(config *opquery.Config, logger opquery.Logger) (opquery.Transport, error) {
	if config.BaseURL == "" {
		return nil, opquery.ErrBaseURLRequired
	}

	opts := []transport.Option{
		transport.WithLogger(logger),
	}

	if config.UserAgent != "" {
		opts = append(opts, transport.WithUserAgent(config.UserAgent))
	}

	if config.Debug {
		opts = append(opts, transport.WithDebug(true))
	}

	if config.RetryMax > 0 {
		waitMin := config.RetryWaitMin
		if waitMin <= 0 {
			waitMin = constants.DefaultRetryWaitMin
		}

		waitMax := config.RetryWaitMax
		if waitMax <= 0 {
			waitMax = constants.DefaultRetryWaitMax
		}

		opts = append(opts, transport.WithRetryConfig(config.RetryMax, waitMin, waitMax))
	}

	return transport.NewClient(normalizeBaseURL(config.BaseURL), tokenManager(config), opts...), nil
}

func tokenManager(config *opquery.Config) auth.TokenManager {
	if config.TokenFunc != nil {
		return auth.NewFuncTokenManager(config.TokenFunc)
	}

	if config.AccessToken != "" {
		return auth.NewStaticTokenManager(config.AccessToken)
	}

	return nil
}

// normalizeBaseURL trims a trailing slash and defaults the scheme to
// https when none is present.
func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")

	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}

	return baseURL
}
