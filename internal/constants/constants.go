// Package constants holds shared defaults for the transport and engine.
package constants

import "time"

// Transport defaults.
const (
	DefaultUserAgent    = "opquery-go"
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = 1 * time.Second
	DefaultRetryWaitMax = 30 * time.Second

	// MaxResponseBody bounds how much of a response body is read.
	MaxResponseBody = 10 << 20 // 10MB
)

// Engine defaults.
const (
	DefaultStaleTime = 30 * time.Second
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)
