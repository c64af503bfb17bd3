package local

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/cloud/internal/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInvoker struct {
	mu        sync.Mutex
	functions map[string]func(payload []byte) (any, error)
	payloads  map[string][]byte
}

func newFakeInvoker(names ...string) *fakeInvoker {
	f := &fakeInvoker{
		functions: make(map[string]func([]byte) (any, error)),
		payloads:  make(map[string][]byte),
	}
	for _, name := range names {
		f.functions[name] = func([]byte) (any, error) { return name, nil }
	}
	return f
}

func (f *fakeInvoker) HasFunction(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.functions[name]
	return ok
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, payload []byte) (any, error) {
	f.mu.Lock()
	fn, ok := f.functions[name]
	f.payloads[name] = payload
	f.mu.Unlock()
	if !ok {
		return nil, cloud.NewError(cloud.KindNotFound, "invokeFunction", name, nil)
	}
	return fn(payload)
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateRouteUnknownFunction(t *testing.T) {
	g := NewGateway(newFakeInvoker(), nil, zap.NewNop(), GatewayOptions{})
	err := g.CreateRoute(context.Background(), cloud.RouteOptions{Path: "/x", HTTPMethod: "POST", FunctionName: "x"})
	assert.ErrorIs(t, err, cloud.ErrNotFound)
}

func TestCreateRouteConflict(t *testing.T) {
	g := NewGateway(newFakeInvoker("a", "b"), nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()

	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/orders", HTTPMethod: "post", FunctionName: "a"}))
	// Same binding, different spelling.
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "orders/", HTTPMethod: "POST", FunctionName: "a"}))

	err := g.CreateRoute(ctx, cloud.RouteOptions{Path: "/orders", HTTPMethod: "POST", FunctionName: "b"})
	assert.ErrorIs(t, err, cloud.ErrConflict)

	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/orders", HTTPMethod: "GET", FunctionName: "b"}))
}

func TestCreateRouteInvalid(t *testing.T) {
	g := NewGateway(newFakeInvoker("a"), nil, zap.NewNop(), GatewayOptions{})
	err := g.CreateRoute(context.Background(), cloud.RouteOptions{Path: "/a", HTTPMethod: "BREW", FunctionName: "a"})
	assert.ErrorIs(t, err, cloud.ErrDeployment)
}

func TestRoutesInactiveUntilReload(t *testing.T) {
	g := NewGateway(newFakeInvoker("createOrder"), nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/createOrder", HTTPMethod: "POST", FunctionName: "createOrder"}))

	rec := serve(t, g, http.MethodPost, "/shop/createOrder", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))
	assert.Equal(t, "shop", g.Project())
	assert.Len(t, g.Routes(), 1)

	rec = serve(t, g, http.MethodPost, "/shop/createOrder", `{"item":"pen"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":"createOrder"}`, rec.Body.String())
	assert.Equal(t, "createOrder", rec.Header().Get("x-cloud-function"))

	rec = serve(t, g, http.MethodPost, "/other/createOrder", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadFailureKeepsPreviousRouter(t *testing.T) {
	inv := newFakeInvoker("a", "b")
	g := NewGateway(inv, nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()

	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/a", HTTPMethod: "POST", FunctionName: "a"}))
	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/b", HTTPMethod: "POST", FunctionName: "b"}))
	inv.mu.Lock()
	delete(inv.functions, "b")
	inv.mu.Unlock()

	err := g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"})
	assert.ErrorIs(t, err, cloud.ErrDeployment)

	assert.Equal(t, http.StatusOK, serve(t, g, http.MethodPost, "/shop/a", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, g, http.MethodPost, "/shop/b", "").Code)
}

func TestReloadConflictingWildcardsFail(t *testing.T) {
	g := NewGateway(newFakeInvoker("a", "b"), nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/items/:id", HTTPMethod: "GET", FunctionName: "a"}))
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/items/:name", HTTPMethod: "GET", FunctionName: "b"}))

	err := g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"})
	assert.ErrorIs(t, err, cloud.ErrDeployment)
	assert.Empty(t, g.Project())
}

func TestReloadRequiresProject(t *testing.T) {
	g := NewGateway(newFakeInvoker(), nil, zap.NewNop(), GatewayOptions{})
	err := g.Reload(context.Background(), cloud.ReloadOptions{ProjectPackageName: " "})
	assert.ErrorIs(t, err, cloud.ErrDeployment)
}

func TestGatewayForwardsParams(t *testing.T) {
	inv := newFakeInvoker("getItem")
	g := NewGateway(inv, nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/items/:id", HTTPMethod: "GET", FunctionName: "getItem"}))
	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	rec := serve(t, g, http.MethodGet, "/shop/items/42?expand=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(inv.payloads["getItem"], &payload))
	assert.Equal(t, map[string]string{"id": "42", "expand": "true"}, payload)
}

func TestGatewayMapsInvocationErrors(t *testing.T) {
	inv := newFakeInvoker("explode")
	inv.functions["explode"] = func([]byte) (any, error) {
		return nil, cloud.Errorf(cloud.KindInvocation, "invokeFunction", "explode", "boom")
	}
	g := NewGateway(inv, nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/explode", HTTPMethod: "POST", FunctionName: "explode"}))
	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	assert.Equal(t, http.StatusBadGateway, serve(t, g, http.MethodPost, "/shop/explode", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, g, http.MethodPost, "/shop/explode", "{nope").Code)
}

func TestGatewayWithServerless(t *testing.T) {
	s := newLayeredServerless(t, time.Second, "createOrder")
	g := NewGateway(s, NewMemoryRouteStore(), zap.NewNop(), GatewayOptions{})
	ctx := context.Background()
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/createOrder", HTTPMethod: "POST", FunctionName: "createOrder"}))
	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "@acme/shop"}))

	rec := serve(t, g, http.MethodPost, "/@acme/shop/createOrder", `{"item":"desk","qty":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"item":"desk","qty":2}}`, rec.Body.String())
}

func TestRestoreServesActiveTable(t *testing.T) {
	store := NewMemoryRouteStore()
	inv := newFakeInvoker("a")
	ctx := context.Background()

	first := NewGateway(inv, store, zap.NewNop(), GatewayOptions{})
	require.NoError(t, first.CreateRoute(ctx, cloud.RouteOptions{Path: "/a", HTTPMethod: "POST", FunctionName: "a"}))
	require.NoError(t, first.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	second := NewGateway(inv, store, zap.NewNop(), GatewayOptions{})
	require.NoError(t, second.Restore(ctx, "shop"))
	assert.Equal(t, http.StatusOK, serve(t, second, http.MethodPost, "/shop/a", "").Code)
}

func TestRedeployAfterServiceRemoved(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewGateway(newFakeInvoker("a", "b"), NewRedisRouteStore(client), zap.NewNop(), GatewayOptions{})
	require.NoError(t, first.CreateRoute(ctx, cloud.RouteOptions{Path: "/a", HTTPMethod: "POST", FunctionName: "a"}))
	require.NoError(t, first.CreateRoute(ctx, cloud.RouteOptions{Path: "/b", HTTPMethod: "POST", FunctionName: "b"}))
	require.NoError(t, first.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	second := NewGateway(newFakeInvoker("a"), NewRedisRouteStore(client), zap.NewNop(), GatewayOptions{})
	require.NoError(t, second.ResetRoutes(ctx))
	require.NoError(t, second.CreateRoute(ctx, cloud.RouteOptions{Path: "/a", HTTPMethod: "POST", FunctionName: "a"}))
	require.NoError(t, second.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	assert.Equal(t, []cloud.RouteOptions{{Path: "/a", HTTPMethod: "POST", FunctionName: "a"}}, second.Routes())
	assert.Equal(t, http.StatusOK, serve(t, second, http.MethodPost, "/shop/a", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, second, http.MethodPost, "/shop/b", "").Code)
}

func TestResetRoutesKeepsActiveRouter(t *testing.T) {
	g := NewGateway(newFakeInvoker("a"), nil, zap.NewNop(), GatewayOptions{})
	ctx := context.Background()
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/a", HTTPMethod: "POST", FunctionName: "a"}))
	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	require.NoError(t, g.ResetRoutes(ctx))
	assert.Equal(t, http.StatusOK, serve(t, g, http.MethodPost, "/shop/a", "").Code)

	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))
	assert.Empty(t, g.Routes())
}

func TestRestoreFromRedisAfterRestart(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	before := newLayeredServerless(t, time.Second, "createOrder")
	g := NewGateway(before, NewRedisRouteStore(client), zap.NewNop(), GatewayOptions{})
	require.NoError(t, g.CreateRoute(ctx, cloud.RouteOptions{Path: "/createOrder", HTTPMethod: "POST", FunctionName: "createOrder"}))
	require.NoError(t, g.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: "shop"}))

	after := newLayeredServerless(t, time.Second, "createOrder")
	restarted := NewGateway(after, NewRedisRouteStore(client), zap.NewNop(), GatewayOptions{})
	require.NoError(t, restarted.Restore(ctx, "shop"))

	rec := serve(t, restarted, http.MethodPost, "/shop/createOrder", `{"item":"lamp"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"item":"lamp"}}`, rec.Body.String())

	unpublished := NewGateway(NewServerless(zap.NewNop(), time.Second), NewRedisRouteStore(client), zap.NewNop(), GatewayOptions{})
	assert.ErrorIs(t, unpublished.Restore(ctx, "shop"), cloud.ErrDeployment)
}
