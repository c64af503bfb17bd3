package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/cloud/internal/codegen"
	"github.com/mx-space/cloud/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func orderRegistry() *codegen.Registry {
	return codegen.Generate([]models.ModelDescriptor{{
		QualifiedName: "motherboard/orders/Order",
		Archetype:     models.ArchetypeActiveRecord,
		StaticMethods: []models.Member{{Name: "create"}, {Name: "fail"}},
	}})
}

func orderLoader(builds *int32) Loader {
	return Loader{
		codegen.ModuleRef("motherboard/orders/Order"): func() (Module, error) {
			atomic.AddInt32(builds, 1)
			return Module{
				"Order": Type{
					"create": func(ctx context.Context, io *IoConf, args []json.RawMessage) (any, error) {
						var item string
						if len(args) > 0 {
							if err := json.Unmarshal(args[0], &item); err != nil {
								return nil, Errorf(http.StatusBadRequest, "bad item: %v", err)
							}
						}
						return map[string]any{"created": item, "tenant": io.Values["tenant"]}, nil
					},
					"fail": func(context.Context, *IoConf, []json.RawMessage) (any, error) {
						return nil, Errorf(http.StatusTeapot, "nope")
					},
				},
			}, nil
		},
	}
}

func TestDispatcherResolvesLazilyOnce(t *testing.T) {
	var builds int32
	module := codegen.ModuleRef("motherboard/orders/Order")
	d := NewDispatcher(orderRegistry(), orderLoader(&builds), &IoConf{Values: map[string]any{"tenant": "t1"}})

	assert.False(t, d.Loaded(module))
	assert.Zero(t, atomic.LoadInt32(&builds))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Invoke(context.Background(), "create", []json.RawMessage{json.RawMessage(`"book"`)})
			assert.NoError(t, err)
			assert.Equal(t, map[string]any{"created": "book", "tenant": "t1"}, out)
		}()
	}
	wg.Wait()

	assert.True(t, d.Loaded(module))
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestDispatcherFactoryErrorIsRetried(t *testing.T) {
	calls := 0
	loader := Loader{
		codegen.ModuleRef("motherboard/orders/Order"): func() (Module, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("cold start failed")
			}
			return Module{"Order": Type{"create": func(context.Context, *IoConf, []json.RawMessage) (any, error) {
				return "ok", nil
			}}}, nil
		},
	}
	d := NewDispatcher(orderRegistry(), loader, nil)

	_, err := d.Invoke(context.Background(), "create", nil)
	require.Error(t, err)
	out, err := d.Invoke(context.Background(), "create", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestDispatcherErrors(t *testing.T) {
	d := NewDispatcher(orderRegistry(), Loader{}, nil)

	_, err := d.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownService)

	_, err = d.Invoke(context.Background(), "create", nil)
	assert.ErrorIs(t, err, ErrUnknownModule)

	var builds int32
	table := Table{"ghost": {Module: codegen.ModuleRef("motherboard/orders/Order"), Type: "Order", Member: "ghost"}}
	d = NewDispatcher(table, orderLoader(&builds), nil)
	_, err = d.Invoke(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrUnknownMember)
}

func TestDispatcherMigrate(t *testing.T) {
	d := NewDispatcher(codegen.Generate(nil), Loader{}, nil)
	_, err := d.Invoke(context.Background(), codegen.MigrateService, nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, http.StatusNotImplemented, rpcErr.Status)

	migrated := false
	d = NewDispatcher(codegen.Generate(nil), Loader{}, &IoConf{Migrate: func(context.Context) (any, error) {
		migrated = true
		return "done", nil
	}})
	out, err := d.Invoke(context.Background(), codegen.MigrateService, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.True(t, migrated)
}

func newTestRouter(d *Dispatcher) *gin.Engine {
	router := gin.New()
	NewServer(d, nil).RegisterRoutes(router.Group("/rpc"))
	return router
}

func TestServerJSON(t *testing.T) {
	var builds int32
	router := newTestRouter(NewDispatcher(orderRegistry(), orderLoader(&builds), nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc/create", bytes.NewBufferString(`["pen"]`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"created":"pen","tenant":null}}`, rec.Body.String())
}

func TestServerListsBindings(t *testing.T) {
	var builds int32
	router := newTestRouter(NewDispatcher(orderRegistry(), orderLoader(&builds), nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), `{"migrate":`))
	assert.JSONEq(t, `{
		"migrate": {"module":"@motherboard/migrate","type":"","member":"migrate"},
		"create": {"module":"@motherboard/motherboard/orders/Order","type":"Order","member":"create"},
		"fail": {"module":"@motherboard/motherboard/orders/Order","type":"Order","member":"fail"}
	}`, rec.Body.String())
	assert.Zero(t, atomic.LoadInt32(&builds))
}

func TestServerMsgpack(t *testing.T) {
	var builds int32
	router := newTestRouter(NewDispatcher(orderRegistry(), orderLoader(&builds), nil))

	body, err := msgpack.Marshal([]any{"lamp"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/msgpack")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]map[string]any
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "lamp", out["data"]["created"])
}

func TestServerErrorStatus(t *testing.T) {
	var builds int32
	router := newTestRouter(NewDispatcher(orderRegistry(), orderLoader(&builds), nil))

	cases := map[string]int{
		"/rpc/fail":    http.StatusTeapot,
		"/rpc/missing": http.StatusNotFound,
	}
	for path, status := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, status, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc/create", bytes.NewBufferString("{oops")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeArgs(t *testing.T) {
	args, err := DecodeArgs(nil, false)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = DecodeArgs([]byte(`{"id":1}`), false)
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"id":1}`, string(args[0]))

	args, err = DecodeArgs([]byte(`[1,"two"]`), false)
	require.NoError(t, err)
	assert.Len(t, args, 2)
}

func TestForwardLoader(t *testing.T) {
	reg := orderRegistry()
	var (
		mu    sync.Mutex
		calls = map[string]string{}
	)
	invoke := func(_ context.Context, service string, payload []byte) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls[service] = string(payload)
		return service, nil
	}
	d := NewDispatcher(reg, ForwardLoader(reg.Entries(), invoke), nil)
	ctx := context.Background()

	out, err := d.Invoke(ctx, "create", []json.RawMessage{json.RawMessage(`{"item":"pen"}`)})
	require.NoError(t, err)
	assert.Equal(t, "create", out)
	assert.Equal(t, `{"item":"pen"}`, calls["create"])

	_, err = d.Invoke(ctx, "fail", []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`"two"`)})
	require.NoError(t, err)
	assert.Equal(t, `[1,"two"]`, calls["fail"])

	_, err = d.Invoke(ctx, codegen.MigrateService, nil)
	require.NoError(t, err)
	assert.Equal(t, "", calls[codegen.MigrateService])
}
