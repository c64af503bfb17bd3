package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mx-space/cloud/internal/cloud/local"
	"github.com/mx-space/cloud/internal/codegen"
	"github.com/mx-space/cloud/internal/config"
	"github.com/mx-space/cloud/internal/deploy"
	"github.com/mx-space/cloud/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the registry, shared layer and assets once",
	Long: `Deploy generates the registry from the configured models and publishes it:
the shared layer, one function and one POST /<service> route per service, a
gateway reload, then the static assets and registry.json.

Functions and routes live in this process unless redis_url is set, so a
one-shot deploy mainly publishes assets and the persistent route table.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		defer logger.Sync()

		d, err := deployProject(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer d.provider.Close()
		res := d.result

		fmt.Fprintf(cmd.OutOrStdout(), "Deployment %s: %d functions, %d routes, %d objects in %s\n",
			res.ID, len(res.Functions), len(res.Routes), len(res.Objects), res.Duration)
		return nil
	},
}

type deployment struct {
	provider *local.Provider
	registry *codegen.Registry
	// result is nil when the gateway was restored instead of deployed.
	result *deploy.Result
}

type project struct {
	registry *codegen.Registry
	layer    string
	assets   map[string]string
}

// loadProject reads the models, shared layer and assets named by cfg.
func loadProject(cfg *config.AppConfig) (*project, error) {
	descriptors, err := models.LoadPath(cfg.ModelsPath())
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	layer, err := os.ReadFile(cfg.LayerPath())
	if err != nil {
		return nil, fmt.Errorf("read shared layer: %w", err)
	}
	assets, err := deploy.LoadAssets(cfg.AssetsDir())
	if err != nil {
		return nil, err
	}
	return &project{registry: codegen.Generate(descriptors), layer: string(layer), assets: assets}, nil
}

// deployProject builds the provider and deploys the configured project on it.
func deployProject(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*deployment, error) {
	p, err := loadProject(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := local.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	res, err := deploy.New(provider.Cloud, logger.Named("deploy")).Deploy(ctx, deploy.Plan{
		ProjectPackageName: cfg.Project,
		LayerCode:          p.layer,
		Registry:           p.registry,
		Assets:             p.assets,
	})
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return &deployment{provider: provider, registry: p.registry, result: res}, nil
}

// restoreProject republishes the layer and functions, then serves the route
// table last activated for the project in Redis. Assets are not uploaded.
func restoreProject(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*deployment, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("restore needs redis_url: the active route table is kept in redis")
	}
	p, err := loadProject(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := local.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := deploy.New(provider.Cloud, logger.Named("deploy")).PublishFunctions(ctx, p.layer, p.registry.Names()); err != nil {
		_ = provider.Close()
		return nil, err
	}
	if err := provider.Gateway.Restore(ctx, cfg.Project); err != nil {
		_ = provider.Close()
		return nil, err
	}
	logger.Info("gateway restored", zap.String("project", cfg.Project), zap.Int("routes", len(provider.Gateway.Routes())))
	return &deployment{provider: provider, registry: p.registry}, nil
}
