package opquery

import (
	"fmt"
	"net/url"

	"github.com/gorilla/schema"
)

var queryEncoder = func() *schema.Encoder {
	enc := schema.NewEncoder()
	enc.SetAliasTag("url")

	return enc
}()

// ParamsFromStruct encodes a struct into a Params map using `url` field
// tags, for callers who keep typed query-parameter structs instead of
// maps. Repeated values stay slices.
//
//	type listPetsParams struct {
//		Limit  int      `url:"limit"`
//		Status []string `url:"status"`
//	}
func ParamsFromStruct(v any) (Params, error) {
	values := url.Values{}
	if err := queryEncoder.Encode(v, values); err != nil {
		return nil, fmt.Errorf("encoding query parameters: %w", err)
	}

	params := make(Params, len(values))

	for name, items := range values {
		if len(items) == 1 {
			params[name] = items[0]

			continue
		}

		params[name] = items
	}

	return params, nil
}
