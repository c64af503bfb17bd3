package local

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/mx-space/cloud/internal/cloud"
	pkgredis "github.com/mx-space/cloud/internal/pkg/redis"
)

// RouteStore keeps the staged route table and the table last activated per
// project.
type RouteStore interface {
	// Stage binds route.HTTPMethod and route.Path to route.FunctionName
	// unless they are already bound. It returns the function bound after
	// the call.
	Stage(ctx context.Context, route cloud.RouteOptions) (string, error)
	// Reset drops every staged route. Active tables are kept.
	Reset(ctx context.Context) error
	// Staged returns every staged route sorted by path, then method.
	Staged(ctx context.Context) ([]cloud.RouteOptions, error)
	// Activate records the staged table as active for project.
	Activate(ctx context.Context, project string) error
	// Active returns the table last activated for project.
	Active(ctx context.Context, project string) ([]cloud.RouteOptions, error)
}

// routeKey is the identity of a route: upper-case method, space, path.
func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func parseRouteKey(key, function string) (cloud.RouteOptions, error) {
	method, path, ok := strings.Cut(key, " ")
	if !ok || method == "" || path == "" {
		return cloud.RouteOptions{}, fmt.Errorf("malformed route key %q", key)
	}
	return cloud.RouteOptions{Path: path, HTTPMethod: method, FunctionName: function}, nil
}

// normalizeRoute upper-cases the method and gives the path a single leading
// slash.
func normalizeRoute(route cloud.RouteOptions) (cloud.RouteOptions, error) {
	method := strings.ToUpper(strings.TrimSpace(route.HTTPMethod))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return route, fmt.Errorf("unsupported http method %q", route.HTTPMethod)
	}

	path := strings.TrimSpace(route.Path)
	path = "/" + strings.Trim(path, "/")
	if strings.ContainsAny(path, " \t\n") {
		return route, fmt.Errorf("invalid route path %q", route.Path)
	}

	name := strings.TrimSpace(route.FunctionName)
	if name == "" {
		return route, fmt.Errorf("route %s %s has no function", method, path)
	}
	return cloud.RouteOptions{Path: path, HTTPMethod: method, FunctionName: name}, nil
}

func routesFromTable(table map[string]string) ([]cloud.RouteOptions, error) {
	routes := make([]cloud.RouteOptions, 0, len(table))
	for key, fn := range table {
		route, err := parseRouteKey(key, fn)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].HTTPMethod < routes[j].HTTPMethod
	})
	return routes, nil
}

type memoryRouteStore struct {
	mu     sync.RWMutex
	staged map[string]string
	active map[string]map[string]string
}

// NewMemoryRouteStore returns a RouteStore that lives in process memory.
func NewMemoryRouteStore() RouteStore {
	return &memoryRouteStore{
		staged: make(map[string]string),
		active: make(map[string]map[string]string),
	}
}

func (m *memoryRouteStore) Stage(_ context.Context, route cloud.RouteOptions) (string, error) {
	key := routeKey(route.HTTPMethod, route.Path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.staged[key]; ok {
		return existing, nil
	}
	m.staged[key] = route.FunctionName
	return route.FunctionName, nil
}

func (m *memoryRouteStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.staged)
	return nil
}

func (m *memoryRouteStore) Staged(_ context.Context) ([]cloud.RouteOptions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return routesFromTable(m.staged)
}

func (m *memoryRouteStore) Activate(_ context.Context, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]string, len(m.staged))
	for k, v := range m.staged {
		snapshot[k] = v
	}
	m.active[project] = snapshot
	return nil
}

func (m *memoryRouteStore) Active(_ context.Context, project string) ([]cloud.RouteOptions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return routesFromTable(m.active[project])
}

const redisKeyPrefix = "cloud:routes:"

type redisRouteStore struct {
	client *pkgredis.Client
	prefix string
}

// NewRedisRouteStore returns a RouteStore kept in Redis hashes, so the staged
// table survives restarts and is shared between gateway instances.
func NewRedisRouteStore(client *pkgredis.Client) RouteStore {
	return &redisRouteStore{client: client, prefix: redisKeyPrefix}
}

func (r *redisRouteStore) stagedKey() string { return r.prefix + "staged" }

func (r *redisRouteStore) activeKey(project string) string {
	return r.prefix + "active:" + project
}

func (r *redisRouteStore) Stage(ctx context.Context, route cloud.RouteOptions) (string, error) {
	key := routeKey(route.HTTPMethod, route.Path)
	set, err := r.client.HSetNX(ctx, r.stagedKey(), key, route.FunctionName)
	if err != nil {
		return "", fmt.Errorf("stage route: %w", err)
	}
	if set {
		return route.FunctionName, nil
	}
	existing, err := r.client.HGet(ctx, r.stagedKey(), key)
	if err != nil {
		return "", fmt.Errorf("read staged route: %w", err)
	}
	return existing, nil
}

func (r *redisRouteStore) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.stagedKey()); err != nil {
		return fmt.Errorf("reset staged routes: %w", err)
	}
	return nil
}

func (r *redisRouteStore) Staged(ctx context.Context) ([]cloud.RouteOptions, error) {
	table, err := r.client.HGetAll(ctx, r.stagedKey())
	if err != nil {
		return nil, fmt.Errorf("read staged routes: %w", err)
	}
	return routesFromTable(table)
}

// Activate copies the staged hash over the project's active hash in one
// transaction. An empty staged table clears the active one.
func (r *redisRouteStore) Activate(ctx context.Context, project string) error {
	rdb := r.client.Raw()
	db := rdb.Options().DB
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, r.activeKey(project))
	pipe.Copy(ctx, r.stagedKey(), r.activeKey(project), db, true)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("activate routes: %w", err)
	}
	return nil
}

func (r *redisRouteStore) Active(ctx context.Context, project string) ([]cloud.RouteOptions, error) {
	table, err := r.client.HGetAll(ctx, r.activeKey(project))
	if err != nil {
		return nil, fmt.Errorf("read active routes: %w", err)
	}
	return routesFromTable(table)
}
