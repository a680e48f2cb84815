package binder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opquery-io/opquery/internal/binder"
	"github.com/opquery-io/opquery/internal/engine"
	"github.com/opquery-io/opquery/pkg/opquery"
	"github.com/opquery-io/opquery/pkg/reactive"
)

// fakeTransport records every request and answers from a configurable
// handler. The default handler echoes the method and path as JSON.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []*opquery.Request
	handler func(req *opquery.Request) (*opquery.Response, error)
}

func (f *fakeTransport) Do(ctx context.Context, req *opquery.Request) (*opquery.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.handler != nil {
		return f.handler(req)
	}

	body, _ := json.Marshal(map[string]any{
		"method": req.Method,
		"path":   req.Path,
	})

	return &opquery.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeTransport) countFor(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0

	for _, call := range f.calls {
		if call.Method == method && call.Path == path {
			count++
		}
	}

	return count
}

func (f *fakeTransport) lastCall() *opquery.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		return nil
	}

	return f.calls[len(f.calls)-1]
}

func newTestRegistry(t *testing.T) *opquery.Registry {
	t.Helper()

	registry, err := opquery.NewRegistry(map[opquery.OperationID]opquery.OperationInfo{
		"listOwners": {Method: "GET", Path: "/owners"},
		"listPets":   {Method: "GET", Path: "/owners/{ownerId}/pets"},
		"getPet":     {Method: "GET", Path: "/owners/{ownerId}/pets/{petId}"},
		"createPet":  {Method: "POST", Path: "/owners/{ownerId}/pets"},
		"updatePet":  {Method: "PUT", Path: "/owners/{ownerId}/pets/{petId}"},
	})
	require.NoError(t, err)

	return registry
}

func newTestAPI(t *testing.T, transport *fakeTransport) opquery.API {
	t.Helper()

	api, err := binder.New(binder.Config{
		Registry:  newTestRegistry(t),
		Transport: transport,
		Engine:    engine.New(engine.WithStaleTime(time.Hour)),
	})
	require.NoError(t, err)

	return api
}

func waitForData(t *testing.T, handle opquery.QueryHandle) any {
	t.Helper()

	require.Eventually(t, func() bool {
		return handle.Data().Get() != nil
	}, time.Second, 5*time.Millisecond)

	return handle.Data().Get()
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := binder.New(binder.Config{})
	assert.ErrorIs(t, err, opquery.ErrRegistryRequired)

	_, err = binder.New(binder.Config{Registry: newTestRegistry(t)})
	assert.ErrorIs(t, err, opquery.ErrTransportRequired)

	_, err = binder.New(binder.Config{Registry: newTestRegistry(t), Transport: &fakeTransport{}})
	assert.ErrorIs(t, err, opquery.ErrEngineRequired)
}

func TestQueryFailsFastOnClassification(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	_, err := api.Query("nope", nil, nil)
	assert.ErrorIs(t, err, opquery.ErrUnknownOperation)

	_, err = api.Query("createPet", nil, nil)
	assert.ErrorIs(t, err, opquery.ErrNotQueryOperation)

	_, err = api.Mutation("listPets", nil, nil)
	assert.ErrorIs(t, err, opquery.ErrNotMutation)

	_, err = api.Mutation("nope", nil, nil)
	assert.ErrorIs(t, err, opquery.ErrUnknownOperation)
}

func TestQueryLifecycle(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	handle, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer handle.Close()

	assert.True(t, handle.Enabled().Get())

	data, ok := waitForData(t, handle).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/owners/o-1/pets", data["path"])

	assert.False(t, handle.Loading().Get())
	assert.NoError(t, handle.Err().Get())
	assert.Equal(t, opquery.CacheKey{"owners", "o-1", "pets"}, handle.Key().Get())
	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners/o-1/pets"))
}

func TestQueryDisabledUntilParamsResolve(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	owner := reactive.NewCell[opquery.Params](nil)

	handle, err := api.Query("listPets", opquery.CellParams(owner), nil)
	require.NoError(t, err)
	defer handle.Close()

	assert.False(t, handle.Enabled().Get())
	assert.False(t, handle.PathParams().Get().FullyResolved)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, transport.callCount())

	_, err = handle.Refetch(context.Background())
	assert.ErrorIs(t, err, opquery.ErrQueryDisabled)

	owner.Set(opquery.Params{"ownerId": "o-7"})

	assert.True(t, handle.Enabled().Get())
	waitForData(t, handle)
	assert.Equal(t, 1, transport.countFor(http.MethodGet, "/owners/o-7/pets"))
}

func TestRefetchReconcilesLateResolvingFuncSource(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	var (
		mu     sync.Mutex
		params opquery.Params
	)

	source := opquery.FuncParams(func() opquery.Params {
		mu.Lock()
		defer mu.Unlock()

		return params
	})

	handle, err := api.Query("listPets", source, nil)
	require.NoError(t, err)
	defer handle.Close()

	assert.False(t, handle.Enabled().Get())

	_, err = handle.Refetch(context.Background())
	assert.ErrorIs(t, err, opquery.ErrQueryDisabled)
	assert.Zero(t, transport.callCount())

	// The accessor starts resolving without emitting a change tick.
	mu.Lock()
	params = opquery.Params{"ownerId": "o-1"}
	mu.Unlock()

	assert.True(t, handle.Enabled().Get())

	result, err := handle.Refetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.Err)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/owners/o-1/pets", data["path"])

	assert.GreaterOrEqual(t, transport.countFor(http.MethodGet, "/owners/o-1/pets"), 1)
}

func TestQueryResubscribesOnParamChange(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	owner := reactive.NewCell(opquery.Params{"ownerId": "o-1"})

	handle, err := api.Query("listPets", opquery.CellParams(owner), nil)
	require.NoError(t, err)
	defer handle.Close()

	waitForData(t, handle)
	require.Equal(t, opquery.CacheKey{"owners", "o-1", "pets"}, handle.Key().Get())

	owner.Set(opquery.Params{"ownerId": "o-2"})

	assert.Equal(t, opquery.CacheKey{"owners", "o-2", "pets"}, handle.Key().Get())

	require.Eventually(t, func() bool {
		return transport.countFor(http.MethodGet, "/owners/o-2/pets") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueryEnabledCondition(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	gate := reactive.NewCell(false)

	handle, err := api.Query("listOwners", nil, &opquery.QueryOptions{
		Enabled: opquery.CellCondition(gate),
	})
	require.NoError(t, err)
	defer handle.Close()

	// Path is resolved but the condition gates fetching.
	assert.True(t, handle.PathParams().Get().FullyResolved)
	assert.False(t, handle.Enabled().Get())
	assert.Zero(t, transport.callCount())

	gate.Set(true)

	assert.True(t, handle.Enabled().Get())
	waitForData(t, handle)
}

func TestQueryKeyDeterminism(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})
	params := opquery.Params{"ownerId": "o-1", "petId": "p-9"}

	first, err := api.Query("getPet", opquery.StaticParams(params), nil)
	require.NoError(t, err)
	defer first.Close()

	second, err := api.Query("getPet", opquery.StaticParams(params), nil)
	require.NoError(t, err)
	defer second.Close()

	assert.True(t, first.Key().Get().Equal(second.Key().Get()))
}

func TestQueryKeyIncludesQuerySegment(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	handle, err := api.Query("listPets", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), &opquery.QueryOptions{
		Request: &opquery.RequestOptions{
			Query: opquery.Params{"status": "adopted", "limit": 10},
		},
	})
	require.NoError(t, err)
	defer handle.Close()

	key := handle.Key().Get()
	assert.Equal(t, opquery.CacheKey{"owners", "o-1", "pets", "limit=10&status=adopted"}, key)
}

func TestOnLoadFiresOncePerColdStart(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	var (
		mu    sync.Mutex
		loads int
	)

	handle, err := api.Query("listOwners", nil, &opquery.QueryOptions{
		OnLoad: func(data any) {
			mu.Lock()
			loads++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer handle.Close()

	waitForData(t, handle)

	mu.Lock()
	assert.Equal(t, 1, loads)
	mu.Unlock()

	// Refetches do not re-fire onLoad.
	_, err = handle.Refetch(context.Background())
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 1, loads)
	mu.Unlock()

	// A registration after the first load fires immediately with the
	// current data.
	fired := false
	handle.OnLoad(func(data any) { fired = true })
	assert.True(t, fired)
}

func TestQuerySelect(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	handle, err := api.Query("listOwners", nil, &opquery.QueryOptions{
		Select: func(data any) any {
			body, _ := data.(map[string]any)

			return body["path"]
		},
	})
	require.NoError(t, err)
	defer handle.Close()

	assert.Equal(t, "/owners", waitForData(t, handle))
}

func TestQueryErrorHandlerReplacesError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		handler: func(req *opquery.Request) (*opquery.Response, error) {
			return nil, opquery.ParseResponseError(http.StatusServiceUnavailable, nil)
		},
	}
	api := newTestAPI(t, transport)

	replaced := assert.AnError

	handle, err := api.Query("listOwners", nil, &opquery.QueryOptions{
		ErrorHandler: func(err error) error { return replaced },
	})
	require.NoError(t, err)
	defer handle.Close()

	require.Eventually(t, func() bool {
		return handle.Err().Get() != nil
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, handle.Err().Get(), replaced)
}

func TestQueryRequestOptionsReachTransport(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	api := newTestAPI(t, transport)

	handle, err := api.Query("listOwners", nil, &opquery.QueryOptions{
		Request: &opquery.RequestOptions{
			Headers:     map[string]string{"X-Tenant": "acme"},
			Query:       opquery.Params{"limit": 5},
			BearerToken: "endpoint-token",
			Extra:       map[string]any{"trace": "on"},
		},
	})
	require.NoError(t, err)
	defer handle.Close()

	waitForData(t, handle)

	call := transport.lastCall()
	require.NotNil(t, call)
	assert.Equal(t, "acme", call.Headers.Get("X-Tenant"))
	assert.Equal(t, "5", call.Query.Get("limit"))
	assert.Equal(t, "endpoint-token", call.BearerToken)
	assert.Equal(t, "on", call.Metadata["trace"])
}

func TestRefetchAfterCloseFails(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	handle, err := api.Query("listOwners", nil, nil)
	require.NoError(t, err)

	waitForData(t, handle)
	handle.Close()

	_, err = handle.Refetch(context.Background())
	assert.ErrorIs(t, err, opquery.ErrHandleClosed)
}

func TestEndpointDispatch(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	query, err := api.Endpoint("listOwners", nil, nil)
	require.NoError(t, err)
	defer query.Close()

	assert.Equal(t, opquery.KindQuery, query.Kind)
	assert.NotNil(t, query.Query)
	assert.Nil(t, query.Mutation)

	mutation, err := api.Endpoint("createPet", opquery.StaticParams(opquery.Params{"ownerId": "o-1"}), nil)
	require.NoError(t, err)
	defer mutation.Close()

	assert.Equal(t, opquery.KindMutation, mutation.Kind)
	assert.NotNil(t, mutation.Mutation)
	assert.Nil(t, mutation.Query)

	_, err = api.Endpoint("nope", nil, nil)
	assert.ErrorIs(t, err, opquery.ErrUnknownOperation)
}

func TestIsQueryOperation(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t, &fakeTransport{})

	isQuery, err := api.IsQueryOperation("listOwners")
	require.NoError(t, err)
	assert.True(t, isQuery)

	isQuery, err = api.IsQueryOperation("updatePet")
	require.NoError(t, err)
	assert.False(t, isQuery)
}
