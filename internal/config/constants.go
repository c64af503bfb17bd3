package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort              = 2333
	defaultEnv               = "development"
	defaultProject           = "default"
	defaultStorageDriver     = StorageDriverLocal
	defaultModelsPath        = "models"
	defaultLayerPath         = "layer/index.ts"
	defaultAssetsPath        = "public"
	defaultStoragePath       = "objects"
	defaultServerlessTimeout = 30 * time.Second

	EnvPort     = "CLOUD_PORT"
	EnvRedisURL = "CLOUD_REDIS_URL"
	EnvEnv      = "CLOUD_ENV"
)

// Storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)
