// Package cloud is the common abstraction over the deployment primitives of a
// cloud provider: object storage for static assets, serverless functions that
// share one code layer, and an API gateway that routes HTTP to those functions.
//
// Implementations hold no state of their own beyond what the provider keeps.
// Callers sequence dependent calls: shared layer, then functions, then routes,
// then Reload. Static assets are independent of the rest.
package cloud

import "context"

// ObjectStorage serves html pages and js sources over http/https.
type ObjectStorage interface {
	// PutObject replaces the object at path with content. On failure the
	// previous object is left untouched. Errors are of KindStorage.
	PutObject(ctx context.Context, path, content string) error
}

// Serverless hosts server code. Every function runs from the same bundled
// shared layer, so a function is registered by name only.
type Serverless interface {
	// CreateSharedLayer publishes the code bundle used by every function.
	// Calling it again with the same code is a no-op.
	CreateSharedLayer(ctx context.Context, layerCode string) error
	// CreateFunction registers functionName against the shared layer. It
	// fails with KindDeployment when no layer exists yet.
	CreateFunction(ctx context.Context, functionName string) error
	// InvokeFunction runs a registered function. KindNotFound for unknown
	// names, KindInvocation for runtime failures.
	InvokeFunction(ctx context.Context, functionName string) error
}

// RouteOptions binds an HTTP method and path to a serverless function.
type RouteOptions struct {
	Path       string `json:"path"`
	HTTPMethod string `json:"httpMethod"`
	// FunctionName references a Serverless function.
	FunctionName string `json:"functionName"`
}

// ReloadOptions names the deployment unit whose routes are activated.
type ReloadOptions struct {
	ProjectPackageName string `json:"projectPackageName"`
}

// ApiGateway exposes serverless functions over http/https.
type ApiGateway interface {
	// CreateRoute stages a route. KindNotFound if the function is unknown,
	// KindConflict if the method and path are bound to another function.
	CreateRoute(ctx context.Context, opts RouteOptions) error
	// Reload activates the full staged route set at once. On failure the
	// previously active routes stay in place.
	Reload(ctx context.Context, opts ReloadOptions) error
}

// RouteResetter is implemented by gateways whose staged routes outlive a
// deployment, such as a staged table kept in a shared store. ResetRoutes
// drops every staged route; the active routes keep serving until the next
// Reload.
type RouteResetter interface {
	ResetRoutes(ctx context.Context) error
}

// Cloud groups one implementation of each capability.
type Cloud struct {
	ObjectStorage ObjectStorage
	Serverless    Serverless
	ApiGateway    ApiGateway
}

// New assembles a Cloud.
func New(storage ObjectStorage, serverless Serverless, gateway ApiGateway) *Cloud {
	return &Cloud{ObjectStorage: storage, Serverless: serverless, ApiGateway: gateway}
}
