// Package transport implements the HTTP transport behind the binding
// layer: a retrying client that builds requests from the open-ended
// request configuration, decorates them with auth and tracing headers,
// and returns the raw transport envelope.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/opquery-io/opquery/internal/auth"
	"github.com/opquery-io/opquery/internal/constants"
	"github.com/opquery-io/opquery/pkg/opquery"
)

// Client issues HTTP requests against one API origin with retries for
// transient failures. It implements opquery.Transport.
type Client struct {
	baseURL      string
	httpClient   *retryablehttp.Client
	tokens       auth.TokenManager
	userAgent    string
	logger       opquery.Logger
	debug        bool
	interceptors *opquery.InterceptorChain
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger opquery.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables verbose request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithRetryConfig tunes the retry policy for transient failures.
func WithRetryConfig(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = retryMax
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithInterceptors installs a request/response interceptor chain.
func WithInterceptors(chain *opquery.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// NewClient creates a transport bound to baseURL. tokens may be nil for
// unauthenticated APIs.
func NewClient(baseURL string, tokens auth.TokenManager, opts ...Option) *Client {
	retrying := retryablehttp.NewClient()
	retrying.RetryMax = constants.DefaultRetryMax
	retrying.RetryWaitMin = constants.DefaultRetryWaitMin
	retrying.RetryWaitMax = constants.DefaultRetryWaitMax
	retrying.HTTPClient.Timeout = constants.DefaultHTTPTimeout
	retrying.Logger = nil

	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: retrying,
		tokens:     tokens,
		userAgent:  constants.DefaultUserAgent,
		logger:     opquery.NopLogger(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do implements opquery.Transport.
func (c *Client) Do(ctx context.Context, req *opquery.Request) (*opquery.Response, error) {
	if c.interceptors != nil {
		if err := c.interceptors.ExecuteRequestInterceptors(ctx, req); err != nil {
			return nil, err
		}
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.debug {
		c.logger.Debug("API Request", map[string]interface{}{
			"method": req.Method,
			"url":    httpReq.URL.String(),
		})
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.runResponseInterceptors(ctx, req, nil, err)

		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, constants.MaxResponseBody))
	if err != nil {
		c.runResponseInterceptors(ctx, req, nil, err)

		return nil, fmt.Errorf("reading response body: %w", err)
	}

	resp := &opquery.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	if c.debug {
		c.logger.Debug("API Response", map[string]interface{}{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": resp.StatusCode,
		})
	}

	if !statusOK(req, resp.StatusCode) {
		respErr := opquery.ParseResponseError(resp.StatusCode, body)
		c.runResponseInterceptors(ctx, req, resp, respErr)

		return resp, respErr
	}

	c.runResponseInterceptors(ctx, req, resp, nil)

	return resp, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*opquery.Response, error) {
	return c.Do(ctx, &opquery.Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*opquery.Response, error) {
	return c.Do(ctx, &opquery.Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*opquery.Response, error) {
	return c.Do(ctx, &opquery.Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*opquery.Response, error) {
	return c.Do(ctx, &opquery.Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*opquery.Response, error) {
	return c.Do(ctx, &opquery.Request{Method: http.MethodDelete, Path: path})
}

func (c *Client) buildRequest(ctx context.Context, req *opquery.Request) (*retryablehttp.Request, error) {
	base := c.baseURL
	if req.BaseURL != "" {
		base = strings.TrimSuffix(req.BaseURL, "/")
	}

	fullURL := base + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var body io.Reader

	hasBody := req.Body != nil
	if hasBody {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}

		body = bytes.NewReader(data)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	if hasBody {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if token, err := c.bearerToken(ctx, req); err != nil {
		return nil, err
	} else if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	// Caller headers win per header name, Authorization included.
	for name, values := range req.Headers {
		httpReq.Header.Del(name)

		for _, value := range values {
			httpReq.Header.Add(name, sanitizeHeader(value))
		}
	}

	return httpReq, nil
}

func (c *Client) bearerToken(ctx context.Context, req *opquery.Request) (string, error) {
	if req.BearerToken != "" {
		return req.BearerToken, nil
	}

	if c.tokens == nil {
		return "", nil
	}

	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("getting token: %w", err)
	}

	return token, nil
}

func (c *Client) runResponseInterceptors(ctx context.Context, req *opquery.Request, resp *opquery.Response, reqErr error) {
	if c.interceptors == nil {
		return
	}

	if err := c.interceptors.ExecuteResponseInterceptors(ctx, req, resp, reqErr); err != nil {
		c.logger.Warn("response interceptor failed", map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
			"error":  err.Error(),
		})
	}
}

func statusOK(req *opquery.Request, status int) bool {
	if req.ValidateStatus != nil {
		return req.ValidateStatus(status)
	}

	return status < http.StatusBadRequest
}

// sanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")

	return s
}
