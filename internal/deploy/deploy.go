// Package deploy pushes a generated function registry, its shared layer and
// static assets to a cloud.Cloud.
package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mx-space/cloud/internal/cloud"
	"github.com/mx-space/cloud/internal/codegen"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// RegistryObject is the object key the JSON registry is published under.
	RegistryObject = "registry.json"

	defaultConcurrency = 8
)

// Plan is everything one deployment publishes.
type Plan struct {
	ProjectPackageName string
	LayerCode          string
	Registry           *codegen.Registry
	// Assets maps object keys to their content.
	Assets map[string]string
}

// Result describes a finished deployment.
type Result struct {
	ID        string
	Functions []string
	Routes    []cloud.RouteOptions
	Objects   []string
	Duration  time.Duration
}

type Deployer struct {
	cloud       *cloud.Cloud
	logger      *zap.Logger
	concurrency int
}

func New(c *cloud.Cloud, logger *zap.Logger) *Deployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{cloud: c, logger: logger, concurrency: defaultConcurrency}
}

// WithConcurrency bounds parallel function and object uploads.
func (d *Deployer) WithConcurrency(n int) *Deployer {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Deploy publishes the shared layer, one function and one POST /<name> route
// per registry entry, activates the routes, then uploads assets and the
// registry itself. Routes staged by earlier deployments are dropped first
// when the gateway supports it. The first failure stops the deployment.
func (d *Deployer) Deploy(ctx context.Context, plan Plan) (*Result, error) {
	if plan.Registry == nil {
		return nil, fmt.Errorf("deploy: plan has no registry")
	}

	start := time.Now()
	res := &Result{ID: uuid.NewString(), Functions: plan.Registry.Names()}
	log := d.logger.With(zap.String("deployment", res.ID), zap.String("project", plan.ProjectPackageName))
	log.Info("deployment started", zap.Int("functions", len(res.Functions)), zap.Int("assets", len(plan.Assets)))

	if err := d.PublishFunctions(ctx, plan.LayerCode, res.Functions); err != nil {
		return nil, err
	}

	if resetter, ok := d.cloud.ApiGateway.(cloud.RouteResetter); ok {
		if err := resetter.ResetRoutes(ctx); err != nil {
			return nil, fmt.Errorf("reset routes: %w", err)
		}
	}
	for _, name := range res.Functions {
		route := cloud.RouteOptions{Path: "/" + name, HTTPMethod: "POST", FunctionName: name}
		if err := d.cloud.ApiGateway.CreateRoute(ctx, route); err != nil {
			return nil, fmt.Errorf("create route %s %s: %w", route.HTTPMethod, route.Path, err)
		}
		res.Routes = append(res.Routes, route)
	}

	if err := d.cloud.ApiGateway.Reload(ctx, cloud.ReloadOptions{ProjectPackageName: plan.ProjectPackageName}); err != nil {
		return nil, fmt.Errorf("reload gateway: %w", err)
	}

	objects, err := d.putObjects(ctx, plan)
	if err != nil {
		return nil, err
	}
	res.Objects = objects
	res.Duration = time.Since(start)

	log.Info("deployment finished",
		zap.Int("routes", len(res.Routes)),
		zap.Int("objects", len(res.Objects)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// PublishFunctions publishes the shared layer, then registers every name
// against it. Routes and objects are left alone.
func (d *Deployer) PublishFunctions(ctx context.Context, layerCode string, names []string) error {
	if err := d.cloud.Serverless.CreateSharedLayer(ctx, layerCode); err != nil {
		return fmt.Errorf("create shared layer: %w", err)
	}
	return d.createFunctions(ctx, names)
}

func (d *Deployer) createFunctions(ctx context.Context, names []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, name := range names {
		g.Go(func() error {
			if err := d.cloud.Serverless.CreateFunction(gctx, name); err != nil {
				return fmt.Errorf("create function %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Deployer) putObjects(ctx context.Context, plan Plan) ([]string, error) {
	registryJSON, err := plan.Registry.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}

	objects := make(map[string]string, len(plan.Assets)+1)
	for key, content := range plan.Assets {
		objects[key] = content
	}
	objects[RegistryObject] = string(registryJSON)

	keys := make([]string, 0, len(objects))
	for key := range objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := d.cloud.ObjectStorage.PutObject(gctx, key, objects[key]); err != nil {
				return fmt.Errorf("put object %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// LoadAssets reads every regular file under dir, keyed by its slash-separated
// path relative to dir. A missing dir yields no assets.
func LoadAssets(dir string) (map[string]string, error) {
	assets := make(map[string]string)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return assets, nil
	}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		assets[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load assets from %s: %w", dir, err)
	}
	return assets, nil
}
