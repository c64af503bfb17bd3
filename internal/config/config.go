package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds runtime configuration loaded from YAML.
type AppConfig struct {
	Env            string             `yaml:"env"` // "development" | "production"
	Port           int                `yaml:"port"`
	Project        string             `yaml:"project"` // deployment unit activated on gateway reload
	RedisURL       string             `yaml:"redis_url"`
	Paths          RuntimePathsConfig `yaml:"paths"`
	Storage        StorageConfig      `yaml:"storage"`
	Serverless     ServerlessConfig   `yaml:"serverless"`
	AllowedOrigins []string           `yaml:"allowed_origins"`

	baseDir string
}

type RuntimePathsConfig struct {
	Models  string `yaml:"models"`
	Layer   string `yaml:"layer"`
	Assets  string `yaml:"assets"`
	Storage string `yaml:"storage"`
	Logs    string `yaml:"logs"`
}

type StorageConfig struct {
	Driver string    `yaml:"driver"` // "local" | "s3"
	S3     S3Options `yaml:"s3"`
}

type S3Options struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	PathStyleAccess bool   `yaml:"path_style_access"`
}

type ServerlessConfig struct {
	Timeout time.Duration `yaml:"-"`
}

type rawAppConfig struct {
	Env            string              `yaml:"env"`
	Port           int                 `yaml:"port"`
	Project        string              `yaml:"project"`
	ProjectPackage string              `yaml:"project_package_name"`
	RedisURL       string              `yaml:"redis_url"`
	Paths          RuntimePathsConfig  `yaml:"paths"`
	Storage        rawStorageConfig    `yaml:"storage"`
	Serverless     rawServerlessConfig `yaml:"serverless"`
	AllowedOrigins []string            `yaml:"allowed_origins"`
}

type rawStorageConfig struct {
	Driver string    `yaml:"driver"`
	S3     S3Options `yaml:"s3"`
}

type rawServerlessConfig struct {
	Timeout string `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := defaultAppConfig()
	applyEnv(&cfg)
	return &cfg
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := Parse(path, content)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
		cfg.baseDir = abs
	}
	return cfg, nil
}

// Parse decodes YAML config content; name is only used in error messages.
func Parse(name string, content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	raw := rawAppConfig{}
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file %q: %w", name, err)
	}

	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, fmt.Errorf("config %q: %w", name, err)
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", name, err)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Env:     defaultEnv,
		Port:    defaultPort,
		Project: defaultProject,
		Paths: RuntimePathsConfig{
			Models:  defaultModelsPath,
			Layer:   defaultLayerPath,
			Assets:  defaultAssetsPath,
			Storage: defaultStoragePath,
		},
		Storage:    StorageConfig{Driver: defaultStorageDriver},
		Serverless: ServerlessConfig{Timeout: defaultServerlessTimeout},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = normalizeEnv(v)
	}
	if v := strings.TrimSpace(raw.Project); v != "" {
		cfg.Project = normalizeProject(v)
	}
	if v := strings.TrimSpace(raw.ProjectPackage); v != "" {
		cfg.Project = normalizeProject(v)
	}
	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		cfg.RedisURL = v
	}

	paths := normalizeRuntimePaths(raw.Paths)
	if paths.Models != "" {
		cfg.Paths.Models = paths.Models
	}
	if paths.Layer != "" {
		cfg.Paths.Layer = paths.Layer
	}
	if paths.Assets != "" {
		cfg.Paths.Assets = paths.Assets
	}
	if paths.Storage != "" {
		cfg.Paths.Storage = paths.Storage
	}
	if paths.Logs != "" {
		cfg.Paths.Logs = paths.Logs
	}

	if v := strings.TrimSpace(raw.Storage.Driver); v != "" {
		cfg.Storage.Driver = normalizeDriver(v)
	}
	cfg.Storage.S3 = normalizeS3Options(raw.Storage.S3)

	if v := strings.TrimSpace(raw.Serverless.Timeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid serverless.timeout %q: %w", v, err)
		}
		cfg.Serverless.Timeout = d
	}

	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEnv)); v != "" {
		cfg.Env = normalizeEnv(v)
	}
}

func (c *AppConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	if c.Serverless.Timeout <= 0 {
		return fmt.Errorf("invalid serverless.timeout %s, expected > 0", c.Serverless.Timeout)
	}
	switch c.Storage.Driver {
	case StorageDriverLocal:
	case StorageDriverS3:
		s3 := c.Storage.S3
		if s3.Bucket == "" || s3.Region == "" || s3.AccessKeyID == "" || s3.SecretAccessKey == "" {
			return fmt.Errorf("incomplete s3 config: bucket/region/access_key_id/secret_access_key are required")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q, expected %q or %q", c.Storage.Driver, StorageDriverLocal, StorageDriverS3)
	}
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development"
}

func (c *AppConfig) ModelsPath() string {
	return ResolveRuntimePath(c.baseDir, c.Paths.Models, defaultModelsPath)
}

func (c *AppConfig) LayerPath() string {
	return ResolveRuntimePath(c.baseDir, c.Paths.Layer, defaultLayerPath)
}

func (c *AppConfig) AssetsDir() string {
	return ResolveRuntimePath(c.baseDir, c.Paths.Assets, defaultAssetsPath)
}

func (c *AppConfig) StorageDir() string {
	return ResolveRuntimePath(c.baseDir, c.Paths.Storage, defaultStoragePath)
}

func (c *AppConfig) LogDir() string {
	if c.Paths.Logs == "" {
		return ""
	}
	return ResolveRuntimePath(c.baseDir, c.Paths.Logs, "")
}
