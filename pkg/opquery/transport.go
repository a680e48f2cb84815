package opquery

import (
	"context"
	"net/http"
	"net/url"
)

// Request represents an outbound HTTP request built by the binding layer.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    any

	// BaseURL overrides the transport's configured base URL when set.
	BaseURL string

	// BearerToken overrides the transport's token source when set.
	BearerToken string

	// ValidateStatus overrides the default "status < 400 is success"
	// rule when non-nil.
	ValidateStatus func(status int) bool

	// Metadata carries caller-defined extension properties end to end.
	// The transport forwards it to interceptors verbatim and never
	// validates it against a closed schema.
	Metadata map[string]any
}

// Response represents the transport envelope of an HTTP response. The
// binding layer unwraps Body before anything is written to the cache; the
// full envelope is only ever returned to mutation callers.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport issues HTTP requests. Implementations must tolerate and
// forward unrecognized Metadata keys and must honor ctx cancellation.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}
