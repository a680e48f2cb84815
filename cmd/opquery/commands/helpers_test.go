package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opquery-io/opquery/pkg/opquery"
)

func TestParseParams(t *testing.T) {
	t.Parallel()

	params, err := parseParams([]string{"ownerId=o-1", "petId=p-9"})
	require.NoError(t, err)
	assert.Equal(t, opquery.Params{"ownerId": "o-1", "petId": "p-9"}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	// Values may contain '=' signs.
	params, err = parseParams([]string{"filter=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "a=b", params["filter"])

	_, err = parseParams([]string{"noequals"})
	assert.Error(t, err)

	_, err = parseParams([]string{"=value"})
	assert.Error(t, err)
}
