package opquery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError represents an error returned by the remote API.
type APIError struct {
	Status int    `json:"status" yaml:"status"`
	Title  string `json:"title"  yaml:"title"`
	Detail string `json:"detail" yaml:"detail"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status: %d)", e.Title, e.Detail, e.Status)
}

// ResponseError represents the error payload of a failed API response.
type ResponseError struct {
	Errors []APIError `json:"errors"`
}

// Error implements the error interface for ResponseError.
func (e *ResponseError) Error() string {
	if len(e.Errors) == 0 {
		return "unknown error"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	return fmt.Sprintf("multiple errors: %v", e.Errors)
}

// FirstError returns the first error or nil.
func (e *ResponseError) FirstError() *APIError {
	if len(e.Errors) > 0 {
		return &e.Errors[0]
	}

	return nil
}

// Configuration errors: returned synchronously at construction or call
// time, never through a handle's error cell.
var (
	ErrConfigRequired     = errors.New("config is required")
	ErrRegistryRequired   = errors.New("operation registry is required")
	ErrBaseURLRequired    = errors.New("base URL is required")
	ErrEmptyRegistry      = errors.New("operation registry has no operations")
	ErrEmptyOperationID   = errors.New("operation ID must not be empty")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrUnsupportedMethod  = errors.New("unsupported HTTP method")
	ErrMalformedTemplate  = errors.New("malformed path template")
	ErrNotQueryOperation  = errors.New("operation is not a query (GET) operation")
	ErrNotMutation        = errors.New("operation is not a mutation operation")
	ErrParamsUnresolved   = errors.New("required path parameters are unresolved")
	ErrHandleClosed       = errors.New("endpoint handle is closed")
	ErrQueryDisabled      = errors.New("query is disabled")
	ErrEngineRequired     = errors.New("execution engine is required")
	ErrTransportRequired  = errors.New("transport is required")
	ErrNilSubscriptionKey = errors.New("query subscription requires a non-empty key")
)

// Cache errors.
var (
	ErrCacheDisabled         = errors.New("cache disabled")
	ErrCacheKeyNotFound      = errors.New("key not found")
	ErrCacheEntryExpired     = errors.New("entry expired")
	ErrNATSConfigRequired    = errors.New("NATS configuration required for NATS cache")
	ErrUnsupportedCacheType  = errors.New("unsupported cache type")
	ErrKeyNotFoundInAnyCache = errors.New("key not found in any cache")
)

// IsNotFound checks if the error is a not-found error from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized checks if the error is an authentication error from the API.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsForbidden checks if the error is an authorization error from the API.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

// IsConfigurationError reports whether err is one of the fail-fast
// configuration errors rather than a transport or cache failure.
func IsConfigurationError(err error) bool {
	for _, sentinel := range []error{
		ErrConfigRequired, ErrRegistryRequired, ErrBaseURLRequired,
		ErrEmptyRegistry, ErrEmptyOperationID, ErrUnknownOperation,
		ErrUnsupportedMethod, ErrMalformedTemplate, ErrNotQueryOperation,
		ErrNotMutation, ErrParamsUnresolved,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

func hasStatus(err error, status int) bool {
	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Status == status
	}

	errResp := &ResponseError{}
	if errors.As(err, &errResp) {
		first := errResp.FirstError()
		if first != nil {
			return first.Status == status
		}
	}

	return false
}

// ParseResponseError parses an error response payload from JSON. Bodies
// that do not follow the structured errors shape yield a single APIError
// carrying the raw body as detail.
func ParseResponseError(status int, data []byte) error {
	var errResp ResponseError
	if err := json.Unmarshal(data, &errResp); err == nil && len(errResp.Errors) > 0 {
		for i := range errResp.Errors {
			if errResp.Errors[i].Status == 0 {
				errResp.Errors[i].Status = status
			}
		}

		return &errResp
	}

	return &APIError{
		Status: status,
		Title:  http.StatusText(status),
		Detail: string(data),
	}
}
