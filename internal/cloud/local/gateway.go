package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/cloud/internal/cloud"
	"github.com/mx-space/cloud/internal/middleware"
	"github.com/mx-space/cloud/internal/pkg/response"
	"go.uber.org/zap"
)

const maxPayloadBytes = 8 << 20

// Invoker runs serverless functions on behalf of the gateway.
type Invoker interface {
	Invoke(ctx context.Context, functionName string, payload []byte) (any, error)
	HasFunction(name string) bool
}

type GatewayOptions struct {
	AllowedOrigins []string
	Dev            bool
}

// Gateway is a cloud.ApiGateway served by gin. Routes are staged in a
// RouteStore and only become reachable after Reload, which swaps in a freshly
// built router.
type Gateway struct {
	invoker Invoker
	store   RouteStore
	logger  *zap.Logger
	opts    GatewayOptions

	fallback *gin.Engine
	active   atomic.Pointer[activeRouter]
}

type activeRouter struct {
	project string
	engine  *gin.Engine
	routes  []cloud.RouteOptions
}

var (
	_ cloud.ApiGateway    = (*Gateway)(nil)
	_ cloud.RouteResetter = (*Gateway)(nil)
	_ http.Handler        = (*Gateway)(nil)
)

func NewGateway(invoker Invoker, store RouteStore, logger *zap.Logger, opts GatewayOptions) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryRouteStore()
	}
	fallback := gin.New()
	fallback.Use(gin.Recovery())
	fallback.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"ok": 0, "code": http.StatusServiceUnavailable, "message": "no active deployment",
		})
	})
	return &Gateway{
		invoker:  invoker,
		store:    store,
		logger:   logger,
		opts:     opts,
		fallback: fallback,
	}
}

func (g *Gateway) CreateRoute(ctx context.Context, opts cloud.RouteOptions) error {
	const op = "createRoute"
	target := strings.ToUpper(opts.HTTPMethod) + " " + opts.Path
	if err := ctx.Err(); err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, target, err)
	}

	route, err := normalizeRoute(opts)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, target, err)
	}
	target = route.HTTPMethod + " " + route.Path

	if !g.invoker.HasFunction(route.FunctionName) {
		return cloud.Errorf(cloud.KindNotFound, op, target, "function %s is not registered", route.FunctionName)
	}

	bound, err := g.store.Stage(ctx, route)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, target, err)
	}
	if bound != route.FunctionName {
		return cloud.Errorf(cloud.KindConflict, op, target, "already bound to %s", bound)
	}
	return nil
}

// ResetRoutes empties the staged table so the next deployment stages its
// routes from scratch. The active router is untouched.
func (g *Gateway) ResetRoutes(ctx context.Context) error {
	if err := g.store.Reset(ctx); err != nil {
		return cloud.Wrap(cloud.KindDeployment, "resetRoutes", "", err)
	}
	return nil
}

// Reload activates every staged route under /<ProjectPackageName>. When the
// new router cannot be built the previous one keeps serving.
func (g *Gateway) Reload(ctx context.Context, opts cloud.ReloadOptions) error {
	const op = "reload"
	project, err := normalizeProject(opts.ProjectPackageName)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, opts.ProjectPackageName, err)
	}
	if err := ctx.Err(); err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}

	routes, err := g.store.Staged(ctx)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}
	engine, err := g.buildRouter(project, routes)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}
	if err := g.store.Activate(ctx, project); err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}

	g.active.Store(&activeRouter{project: project, engine: engine, routes: routes})
	g.logger.Info("gateway reloaded", zap.String("project", project), zap.Int("routes", len(routes)))
	return nil
}

// Restore serves the route table last activated for project, without
// touching the staged table. Used after a restart with a persistent store.
func (g *Gateway) Restore(ctx context.Context, project string) error {
	const op = "restore"
	project, err := normalizeProject(project)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}
	routes, err := g.store.Active(ctx, project)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}
	engine, err := g.buildRouter(project, routes)
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, project, err)
	}
	g.active.Store(&activeRouter{project: project, engine: engine, routes: routes})
	return nil
}

// Project returns the active project package name, or "" before the first
// successful Reload.
func (g *Gateway) Project() string {
	if a := g.active.Load(); a != nil {
		return a.project
	}
	return ""
}

// Routes returns the active route table.
func (g *Gateway) Routes() []cloud.RouteOptions {
	a := g.active.Load()
	if a == nil {
		return nil
	}
	return append([]cloud.RouteOptions(nil), a.routes...)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a := g.active.Load(); a != nil {
		a.engine.ServeHTTP(w, r)
		return
	}
	g.fallback.ServeHTTP(w, r)
}

// buildRouter registers routes on a new engine. gin panics on conflicting
// wildcard routes; that is reported as an error.
func (g *Gateway) buildRouter(project string, routes []cloud.RouteOptions) (engine *gin.Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("register routes: %v", r)
		}
	}()

	engine = gin.New()
	engine.Use(middleware.Logger(g.logger), gin.Recovery(), middleware.CORS(g.opts.AllowedOrigins, g.opts.Dev))

	group := engine.Group("/" + project)
	for _, route := range routes {
		if !g.invoker.HasFunction(route.FunctionName) {
			return nil, fmt.Errorf("route %s %s: function %s is not registered", route.HTTPMethod, route.Path, route.FunctionName)
		}
		group.Handle(route.HTTPMethod, route.Path, g.forward(route.FunctionName))
	}
	engine.NoRoute(func(c *gin.Context) {
		response.NotFoundMsg(c, "route not found")
	})
	return engine, nil
}

func (g *Gateway) forward(functionName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.FunctionKey, functionName)
		c.Header("x-cloud-function", functionName)

		payload, err := requestPayload(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		out, err := g.invoker.Invoke(c.Request.Context(), functionName, payload)
		if err != nil {
			_ = c.Error(err)
			response.Error(c, err)
			return
		}
		response.OK(c, out)
	}
}

// requestPayload returns the request body. A request without a body is
// given its path and query parameters as a JSON object instead.
func requestPayload(c *gin.Context) ([]byte, error) {
	if c.Request.Body != nil {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if !json.Valid(body) {
				return nil, fmt.Errorf("invalid json body")
			}
			return body, nil
		}
	}

	query := c.Request.URL.Query()
	if len(query) == 0 && len(c.Params) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(query)+len(c.Params))
	for key := range query {
		params[key] = query.Get(key)
	}
	for _, p := range c.Params {
		params[p.Key] = p.Value
	}
	return json.Marshal(params)
}

func normalizeProject(name string) (string, error) {
	project := strings.Trim(strings.TrimSpace(name), "/")
	if project == "" {
		return "", fmt.Errorf("project package name is empty")
	}
	if strings.ContainsAny(project, " \t:*") || strings.Contains(project, "//") {
		return "", fmt.Errorf("invalid project package name %q", name)
	}
	return project, nil
}
