package opquery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opquery-io/opquery/pkg/opquery"
)

func TestRequestOptionsMerge(t *testing.T) {
	t.Parallel()

	base := &opquery.RequestOptions{
		Headers: map[string]string{
			"X-Tenant":  "acme",
			"X-Version": "1",
		},
		Query:   opquery.Params{"limit": 10},
		Timeout: 5 * time.Second,
		BaseURL: "https://base.example.com",
		Extra:   map[string]any{"trace": true},
	}

	override := &opquery.RequestOptions{
		Headers: map[string]string{
			"X-Version": "2",
			"X-Call":    "yes",
		},
		Query:       opquery.Params{"limit": 50, "page": 2},
		BearerToken: "call-token",
		Extra:       map[string]any{"priority": "high"},
	}

	merged := base.Merge(override)
	require.NotNil(t, merged)

	// Headers merge per name, override winning.
	assert.Equal(t, "acme", merged.Headers["X-Tenant"])
	assert.Equal(t, "2", merged.Headers["X-Version"])
	assert.Equal(t, "yes", merged.Headers["X-Call"])

	// Query merges per key.
	assert.Equal(t, 50, merged.Query["limit"])
	assert.Equal(t, 2, merged.Query["page"])

	// Unset override fields keep the base values.
	assert.Equal(t, 5*time.Second, merged.Timeout)
	assert.Equal(t, "https://base.example.com", merged.BaseURL)
	assert.Equal(t, "call-token", merged.BearerToken)

	// Extra bags merge too.
	assert.Equal(t, true, merged.Extra["trace"])
	assert.Equal(t, "high", merged.Extra["priority"])

	// Inputs are untouched.
	assert.Equal(t, "1", base.Headers["X-Version"])
	assert.Equal(t, 10, base.Query["limit"])
}

func TestRequestOptionsMergeNilSafety(t *testing.T) {
	t.Parallel()

	var base *opquery.RequestOptions

	assert.Nil(t, base.Merge(nil))

	merged := base.Merge(&opquery.RequestOptions{BaseURL: "https://x"})
	require.NotNil(t, merged)
	assert.Equal(t, "https://x", merged.BaseURL)

	merged = (&opquery.RequestOptions{Timeout: time.Second}).Merge(nil)
	require.NotNil(t, merged)
	assert.Equal(t, time.Second, merged.Timeout)
}

func TestInvalidationSpecMerge(t *testing.T) {
	t.Parallel()

	endpoint := opquery.InvalidationSpec{
		"listPets":   opquery.Params{"ownerId": "o-1"},
		"listOwners": nil,
	}

	call := opquery.InvalidationSpec{
		"listPets": opquery.Params{"ownerId": "o-2"},
	}

	merged := endpoint.Merge(call)

	assert.Equal(t, opquery.Params{"ownerId": "o-2"}, merged["listPets"])

	scope, ok := merged["listOwners"]
	assert.True(t, ok)
	assert.Nil(t, scope)

	assert.Nil(t, opquery.InvalidationSpec(nil).Merge(nil))
}

func TestInvalidateAll(t *testing.T) {
	t.Parallel()

	spec := opquery.InvalidateAll("listPets", "listOwners")
	require.Len(t, spec, 2)

	scope, ok := spec["listPets"]
	assert.True(t, ok)
	assert.Nil(t, scope)
}
