package binder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opquery-io/opquery/pkg/opquery"
	"github.com/opquery-io/opquery/pkg/reactive"
)

func TestMutateAsyncReturnsFullEnvelope(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		handler: func(req *opquery.Request) (*opquery.Response, error) {
			return &opquery.Response{
				StatusCode: http.StatusCreated,
				Headers:    http.Header{"X-Request-Id": []string{"r-1"}},
				Body:       []byte(`{"id":"p-1","name":"Rex"}`),
			}, nil
		},
	}
	api := newTestAPI(t, transport)

	handle, err := api.Mutation("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer handle.Close()

	resp, err := handle.MutateAsync(context.Background(), &opquery.MutateRequest{
		Data: map[string]any{"name": "Rex"},
	})
	require.NoError(t, err)

	// The caller gets the transport envelope; the data cell gets the
	// decoded body only.
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "r-1", resp.Headers.Get("X-Request-Id"))

	data, ok := handle.Data().Get().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Rex", data["name"])
	assert.NoError(t, handle.Err().Get())

	call := transport.lastCall()
	require.NotNil(t, call)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/owners/o-1/pets", call.Path)
	assert.Equal(t, map[string]any{"name": "Rex"}, call.Body)
}

func TestMutateAsyncFailsFastOnUnresolvedParams(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	handle, err := api.Mutation("updatePet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer handle.Close()

	assert.False(t, handle.Enabled().Get())

	_, err = handle.MutateAsync(context.Background(), &opquery.MutateRequest{Data: "x"})
	assert.ErrorIs(t, err, opquery.ErrParamsUnresolved)
	assert.ErrorIs(t, handle.Err().Get(), opquery.ErrParamsUnresolved)
	assert.Zero(t, transport.callCount())
}

func TestMutateIsNoOpWhenDisabled(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	handle, err := api.Mutation("updatePet", nil, nil)
	require.NoError(t, err)
	defer handle.Close()

	handle.Mutate(context.Background(), &opquery.MutateRequest{Data: "x"})

	assert.Zero(t, transport.callCount())
	assert.NoError(t, handle.Err().Get())
}

func TestMutateAsyncAfterCloseFails(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	handle, err := api.Mutation("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	handle.Close()

	_, err = handle.MutateAsync(context.Background(), nil)
	assert.ErrorIs(t, err, opquery.ErrHandleClosed)
}

func TestMutationParamPrecedence(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	extra := reactive.NewCell(opquery.Params{"petId": "from-extra"})

	handle, err := api.Mutation("updatePet",
		opquery.StaticParams(opquery.Params{"ownerId": "o-1", "petId": "from-source"}),
		&opquery.MutationOptions{
			ExtraPathParams: opquery.CellParams(extra),
			DontInvalidate:  true,
		})
	require.NoError(t, err)
	defer handle.Close()

	// ExtraPathParams wins over the endpoint source.
	assert.Equal(t, opquery.Params{"petId": "from-extra"}, handle.ExtraPathParams())
	assert.Equal(t, "/owners/o-1/pets/from-extra", handle.PathParams().Get().URL)

	// Call-time overrides win over both.
	_, err = handle.MutateAsync(context.Background(), &opquery.MutateRequest{
		PathParams: opquery.Params{"petId": "from-call"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, transport.countFor(http.MethodPut, "/owners/o-1/pets/from-call"))
}

func TestMutationDefaultInvalidationTargetsListSibling(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	pets, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer pets.Close()

	owners, err := api.Query("listOwners", nil, nil)
	require.NoError(t, err)
	defer owners.Close()

	waitForData(t, pets)
	waitForData(t, owners)

	update, err := api.Mutation("updatePet", opquery.StaticParams(opquery.Params{"ownerId": "o-1", "petId": "p-9"}), nil)
	require.NoError(t, err)
	defer update.Close()

	_, err = update.MutateAsync(context.Background(), &opquery.MutateRequest{Data: map[string]any{"name": "Rex"}})
	require.NoError(t, err)

	// The pet listing under o-1 is refetched; the owner listing is not.
	require.Eventually(t, func() bool {
		return transport.countFor(http.MethodGet, "/owners/o-1/pets") == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners"))
}

func TestMutationScopedInvalidation(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	petsO1, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer petsO1.Close()

	petsO2, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-2"}), nil)
	require.NoError(t, err)
	defer petsO2.Close()

	waitForData(t, petsO1)
	waitForData(t, petsO2)

	update, err := api.Mutation("updatePet",
		opquery.StaticParams(opquery.Params{"ownerId": "o-1", "petId": "p-9"}),
		&opquery.MutationOptions{
			InvalidateOperations: opquery.InvalidationSpec{
				"listPets": opquery.Params{"ownerId": "o-2"},
			},
		})
	require.NoError(t, err)
	defer update.Close()

	_, err = update.MutateAsync(context.Background(), nil)
	require.NoError(t, err)

	// The explicit spec replaces the default: only o-2 is invalidated.
	require.Eventually(t, func() bool {
		return transport.countFor(http.MethodGet, "/owners/o-2/pets") == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners/o-1/pets"))
}

func TestMutationExplicitInvalidationStaysWithinOperation(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	owners, err := api.Query("listOwners", nil, nil)
	require.NoError(t, err)
	defer owners.Close()

	petsO1, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer petsO1.Close()

	petsO2, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-2"}), nil)
	require.NoError(t, err)
	defer petsO2.Close()

	pet, err := api.Query("getPet", opquery.StaticParams(opquery.Params{"ownerId": "o-2", "petId": "p-1"}), nil)
	require.NoError(t, err)
	defer pet.Close()

	waitForData(t, owners)
	waitForData(t, petsO1)
	waitForData(t, petsO2)
	waitForData(t, pet)

	update, err := api.Mutation("updatePet",
		opquery.StaticParams(opquery.Params{"ownerId": "o-1", "petId": "p-9"}),
		&opquery.MutationOptions{
			InvalidateOperations: opquery.InvalidationSpec{"listPets": nil},
		})
	require.NoError(t, err)
	defer update.Close()

	_, err = update.MutateAsync(context.Background(), nil)
	require.NoError(t, err)

	// The unconstrained entry reaches every pet listing, whatever owner.
	require.Eventually(t, func() bool {
		return transport.countFor(http.MethodGet, "/owners/o-1/pets") == 2 &&
			transport.countFor(http.MethodGet, "/owners/o-2/pets") == 2
	}, time.Second, 5*time.Millisecond)

	// Operations merely sharing the leading path segments keep their
	// entries.
	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners"))
	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners/o-2/pets/p-1"))
}

func TestMutationWriteThrough(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		handler: func(req *opquery.Request) (*opquery.Response, error) {
			if req.Method == http.MethodPut {
				return &opquery.Response{
					StatusCode: http.StatusOK,
					Body:       []byte(`{"name":"Updated"}`),
				}, nil
			}

			return &opquery.Response{
				StatusCode: http.StatusOK,
				Body:       []byte(`{"name":"Original"}`),
			}, nil
		},
	}
	api := newTestAPI(t, transport)

	params := opquery.Params{"ownerId": "o-1", "petId": "p-9"}

	pet, err := api.Query("getPet", opquery.StaticParams(params), nil)
	require.NoError(t, err)
	defer pet.Close()

	data, ok := waitForData(t, pet).(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Original", data["name"])

	update, err := api.Mutation("updatePet", opquery.StaticParams(params), &opquery.MutationOptions{
		// Isolate the write-through from the invalidation refetch.
		DontInvalidate: true,
	})
	require.NoError(t, err)
	defer update.Close()

	_, err = update.MutateAsync(context.Background(), &opquery.MutateRequest{Data: map[string]any{"name": "Updated"}})
	require.NoError(t, err)

	// The response body lands in the query's cache entry without a fetch.
	data, ok = pet.Data().Get().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Updated", data["name"])
	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners/o-1/pets/p-9"))
}

func TestMutationDontUpdateCache(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		handler: func(req *opquery.Request) (*opquery.Response, error) {
			if req.Method == http.MethodPut {
				return &opquery.Response{StatusCode: http.StatusOK, Body: []byte(`{"name":"Updated"}`)}, nil
			}

			return &opquery.Response{StatusCode: http.StatusOK, Body: []byte(`{"name":"Original"}`)}, nil
		},
	}
	api := newTestAPI(t, transport)

	params := opquery.Params{"ownerId": "o-1", "petId": "p-9"}

	pet, err := api.Query("getPet", opquery.StaticParams(params), nil)
	require.NoError(t, err)
	defer pet.Close()

	waitForData(t, pet)

	update, err := api.Mutation("updatePet", opquery.StaticParams(params), &opquery.MutationOptions{
		DontInvalidate:  true,
		DontUpdateCache: true,
	})
	require.NoError(t, err)
	defer update.Close()

	_, err = update.MutateAsync(context.Background(), &opquery.MutateRequest{Data: "x"})
	require.NoError(t, err)

	data, ok := pet.Data().Get().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Original", data["name"])
}

func TestMutationRefetchEndpoints(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	// Unrelated to the mutation's fan-out.
	owners, err := api.Query("listOwners", nil, nil)
	require.NoError(t, err)
	defer owners.Close()

	waitForData(t, owners)

	create, err := api.Mutation("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), &opquery.MutationOptions{
		DontInvalidate:   true,
		RefetchEndpoints: []opquery.QueryHandle{owners},
	})
	require.NoError(t, err)
	defer create.Close()

	_, err = create.MutateAsync(context.Background(), &opquery.MutateRequest{Data: map[string]any{"name": "Rex"}})
	require.NoError(t, err)

	assert.Equal(t, 2, transport.countFor(http.MethodGet, "/owners"))
}

func TestMutationErrorHandler(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		handler: func(req *opquery.Request) (*opquery.Response, error) {
			body := []byte(`{"errors":[{"status":422,"title":"Invalid","detail":"bad name"}]}`)

			return &opquery.Response{StatusCode: http.StatusUnprocessableEntity, Body: body},
				opquery.ParseResponseError(http.StatusUnprocessableEntity, body)
		},
	}
	api := newTestAPI(t, transport)

	replaced := assert.AnError

	handle, err := api.Mutation("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), &opquery.MutationOptions{
		ErrorHandler: func(err error) error { return replaced },
	})
	require.NoError(t, err)
	defer handle.Close()

	resp, err := handle.MutateAsync(context.Background(), &opquery.MutateRequest{Data: "x"})
	assert.ErrorIs(t, err, replaced)
	assert.ErrorIs(t, handle.Err().Get(), replaced)

	// The envelope still reaches the caller alongside the error.
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestMutationCallTimeRequestOptionsWin(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	handle, err := api.Mutation("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), &opquery.MutationOptions{
		DontInvalidate: true,
		Request: &opquery.RequestOptions{
			Headers: map[string]string{"X-Tenant": "endpoint", "X-Keep": "yes"},
		},
	})
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.MutateAsync(context.Background(), &opquery.MutateRequest{
		Data: "x",
		Request: &opquery.RequestOptions{
			Headers: map[string]string{"X-Tenant": "call"},
		},
	})
	require.NoError(t, err)

	call := transport.lastCall()
	require.NotNil(t, call)
	assert.Equal(t, "call", call.Headers.Get("X-Tenant"))
	assert.Equal(t, "yes", call.Headers.Get("X-Keep"))
}

func TestMutationDecodedBodyRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(map[string]any{"id": "p-1"})
	require.NoError(t, err)

	transport := &fakeTransport{
		handler: func(req *opquery.Request) (*opquery.Response, error) {
			return &opquery.Response{StatusCode: http.StatusOK, Body: raw}, nil
		},
	}
	api := newTestAPI(t, transport)

	handle, err := api.Mutation("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), &opquery.MutationOptions{
		DontInvalidate: true,
	})
	require.NoError(t, err)
	defer handle.Close()

	resp, err := handle.MutateAsync(context.Background(), &opquery.MutateRequest{Data: "x"})
	require.NoError(t, err)

	// Raw bytes in the envelope, decoded payload in the cell.
	assert.Equal(t, raw, resp.Body)
	assert.Equal(t, map[string]any{"id": "p-1"}, handle.Data().Get())
}
