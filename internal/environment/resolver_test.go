package environment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
)

// fakeAPI is an in-memory Fabric with call counters.
type fakeAPI struct {
	workspaces   []fabric.Workspace
	envs         map[string][]fabric.Environment
	listWSErr    error
	listEnvErr   error
	createErr    error
	getEnvErr    error
	listWSCalls  int
	listEnvCalls int
	createCalls  int
	getEnvCalls  int
}

func (f *fakeAPI) ListWorkspaces(context.Context) ([]fabric.Workspace, error) {
	f.listWSCalls++
	return f.workspaces, f.listWSErr
}

func (f *fakeAPI) ListEnvironments(_ context.Context, ws string) ([]fabric.Environment, error) {
	f.listEnvCalls++
	if f.listEnvErr != nil {
		return nil, f.listEnvErr
	}
	return f.envs[ws], nil
}

func (f *fakeAPI) CreateEnvironment(_ context.Context, ws string, req fabric.CreateItemRequest) (fabric.Item, error) {
	f.createCalls++
	if f.createErr != nil {
		return fabric.Item{}, f.createErr
	}
	if f.envs == nil {
		f.envs = map[string][]fabric.Environment{}
	}
	id := "env-" + req.DisplayName
	f.envs[ws] = append(f.envs[ws], fabric.Environment{ID: id, DisplayName: req.DisplayName})
	return fabric.Item{ID: id, WorkspaceID: ws}, nil
}

func (f *fakeAPI) GetEnvironment(_ context.Context, ws, id string) (fabric.EnvironmentMetadata, error) {
	f.getEnvCalls++
	if f.getEnvErr != nil {
		return fabric.EnvironmentMetadata{}, f.getEnvErr
	}
	for _, e := range f.envs[ws] {
		if e.ID == id {
			return fabric.EnvironmentMetadata{}, nil
		}
	}
	return fabric.EnvironmentMetadata{}, &fabric.RemoteError{StatusCode: http.StatusNotFound}
}

func newFake() *fakeAPI {
	return &fakeAPI{workspaces: []fabric.Workspace{
		{ID: "ws-other", DisplayName: "other"},
		{ID: "ws-1", DisplayName: "analytics"},
		{ID: "ws-dup", DisplayName: "analytics"},
	}}
}

func TestResolveWorkspaceIDFirstMatch(t *testing.T) {
	api := newFake()
	id, err := RESTLookup{API: api}.ResolveWorkspaceID(context.Background(), "analytics")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", id)
}

func TestResolveWorkspaceIDNotFoundIsDistinguishable(t *testing.T) {
	api := newFake()
	_, err := RESTLookup{API: api}.ResolveWorkspaceID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Nil(t, nf.Cause, "empty result has no cause")

	api.listWSErr = &fabric.RemoteError{StatusCode: http.StatusUnauthorized}
	_, err = RESTLookup{API: api}.ResolveWorkspaceID(context.Background(), "analytics")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.As(err, &nf))
	assert.NotNil(t, nf.Cause, "remote failure carries its cause")
	assert.Equal(t, http.StatusUnauthorized, fabric.StatusCode(err))
}

func TestFindEnvironment(t *testing.T) {
	api := newFake()
	api.envs = map[string][]fabric.Environment{"ws-1": {{ID: "e1", DisplayName: "prod"}}}
	l := RESTLookup{API: api}

	id, err := l.FindEnvironment(context.Background(), "prod", "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", id)

	id, err = l.FindEnvironment(context.Background(), "dev", "ws-1")
	require.NoError(t, err)
	assert.Empty(t, id, "absence is not an error")

	api.listEnvErr = &fabric.RemoteError{StatusCode: http.StatusNotFound}
	id, err = l.FindEnvironment(context.Background(), "prod", "ws-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	api.listEnvErr = &fabric.RemoteError{StatusCode: http.StatusInternalServerError}
	_, err = l.FindEnvironment(context.Background(), "prod", "ws-1")
	assert.Error(t, err)
}

func TestCreateOrGetIsIdempotent(t *testing.T) {
	api := newFake()
	r := NewResolver(RESTLookup{API: api}, api, nil)

	first, err := r.CreateOrGet(context.Background(), "prod", "analytics")
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := r.CreateOrGet(context.Background(), "prod", "analytics")
	require.NoError(t, err)
	assert.False(t, second.Created)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ws-1", second.WorkspaceID)
	assert.Equal(t, 1, api.createCalls)
}

func TestCreateOrGetCreateFailureIsFatal(t *testing.T) {
	api := newFake()
	api.createErr = &fabric.RemoteError{Method: fabric.MethodPost, StatusCode: http.StatusForbidden}
	r := NewResolver(RESTLookup{API: api}, api, nil)

	_, err := r.CreateOrGet(context.Background(), "prod", "analytics")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, fabric.StatusCode(err))
	assert.Contains(t, err.Error(), "status 403")
}

func TestCreateOrGetUnknownWorkspace(t *testing.T) {
	api := newFake()
	r := NewResolver(RESTLookup{API: api}, api, nil)
	_, err := r.CreateOrGet(context.Background(), "prod", "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, api.createCalls)
}
