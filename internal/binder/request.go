package binder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opquery-io/opquery/internal/resolve"
	"github.com/opquery-io/opquery/pkg/opquery"
)

// buildRequest assembles a transport request from a resolved URL and the
// merged request configuration. opts may be nil.
func buildRequest(method, path string, body any, opts *opquery.RequestOptions) *opquery.Request {
	req := &opquery.Request{
		Method: method,
		Path:   path,
		Body:   body,
	}

	if opts == nil {
		return req
	}

	if len(opts.Headers) > 0 {
		req.Headers = make(http.Header, len(opts.Headers))
		for name, value := range opts.Headers {
			req.Headers.Set(name, value)
		}
	}

	req.Query = resolve.QueryValues(opts.Query)
	req.BaseURL = opts.BaseURL
	req.BearerToken = opts.BearerToken
	req.ValidateStatus = opts.ValidateStatus
	req.Metadata = opts.Extra

	return req
}

// dispatch sends the request, honoring an options-level timeout, and
// decodes the response body into its payload form. An empty body decodes
// to nil.
func (b *Binder) dispatch(ctx context.Context, req *opquery.Request, opts *opquery.RequestOptions) (*opquery.Response, any, error) {
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	resp, err := b.transport.Do(ctx, req)
	if err != nil {
		return resp, nil, err
	}

	data, err := decodeBody(resp.Body)
	if err != nil {
		return resp, nil, err
	}

	return resp, data, nil
}

func decodeBody(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}

	return data, nil
}

// applyErrorHandler routes err through the caller's handler. A non-nil
// return replaces the error; a nil return keeps the original.
func applyErrorHandler(handler func(error) error, err error) error {
	if handler == nil || err == nil {
		return err
	}

	if replaced := handler(err); replaced != nil {
		return replaced
	}

	return err
}
