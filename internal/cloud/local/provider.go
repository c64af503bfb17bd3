// Package local is a self-hosted cloud provider: objects on disk (or S3),
// functions in an embedded JavaScript runtime and a gin API gateway.
package local

import (
	"context"
	"fmt"

	"github.com/mx-space/cloud/internal/cloud"
	"github.com/mx-space/cloud/internal/cloud/s3store"
	"github.com/mx-space/cloud/internal/config"
	pkgredis "github.com/mx-space/cloud/internal/pkg/redis"
	"go.uber.org/zap"
)

// Provider owns the components behind a cloud.Cloud.
type Provider struct {
	Cloud      *cloud.Cloud
	Serverless *Serverless
	Gateway    *Gateway

	redis *pkgredis.Client
}

// New assembles a provider from cfg. Object storage is a directory or an S3
// bucket depending on storage.driver; routes are kept in Redis when
// redis_url is set.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var storage cloud.ObjectStorage
	switch cfg.Storage.Driver {
	case config.StorageDriverS3:
		store, err := s3store.New(cfg.Storage.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		storage = store
	default:
		store, err := NewStorage(cfg.StorageDir())
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		storage = store
	}

	p := &Provider{}
	routes := NewMemoryRouteStore()
	if cfg.RedisURL != "" {
		client, err := pkgredis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		p.redis = client
		routes = NewRedisRouteStore(client)
	}

	p.Serverless = NewServerless(logger.Named("serverless"), cfg.Serverless.Timeout)
	p.Gateway = NewGateway(p.Serverless, routes, logger.Named("gateway"), GatewayOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Dev:            cfg.IsDev(),
	})
	p.Cloud = cloud.New(storage, p.Serverless, p.Gateway)

	logger.Info("cloud provider ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis_routes", p.redis != nil),
		zap.Duration("timeout", cfg.Serverless.Timeout),
	)
	return p, nil
}

// Close releases the Redis connection, if any.
func (p *Provider) Close() error {
	if p.redis == nil {
		return nil
	}
	return p.redis.Close()
}
