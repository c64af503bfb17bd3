package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("empty.yml", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, defaultProject, cfg.Project)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Serverless.Timeout)
	assert.Empty(t, cfg.RedisURL)
}

func TestParseFull(t *testing.T) {
	src := `
env: Production
port: 8080
project_package_name: /shop/
redis_url: redis://localhost:6379/1
paths:
  models: ./defs
  layer: dist/layer.js
serverless:
  timeout: 5s
storage:
  driver: S3
  s3:
    bucket: assets
    region: us-east-1
    access_key_id: " AKIA "
    secret_access_key: secret
    prefix: /site/
allowed_origins: [" https://a.example ", ""]
`
	cfg, err := Parse("full.yml", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "shop", cfg.Project)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	assert.Equal(t, 5*time.Second, cfg.Serverless.Timeout)
	assert.Equal(t, StorageDriverS3, cfg.Storage.Driver)
	assert.Equal(t, "AKIA", cfg.Storage.S3.AccessKeyID)
	assert.Equal(t, "site", cfg.Storage.S3.Prefix)
	assert.Equal(t, []string{"https://a.example"}, cfg.AllowedOrigins)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "nope: 1\n",
		"bad port":         "port: 70000\n",
		"bad timeout":      "serverless:\n  timeout: soon\n",
		"unknown driver":   "storage:\n  driver: ftp\n",
		"incomplete s3":    "storage:\n  driver: s3\n  s3:\n    bucket: b\n",
		"negative timeout": "serverless:\n  timeout: -1s\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("bad.yml", []byte(src))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9999")
	t.Setenv(EnvRedisURL, "redis://cache:6379/0")
	cfg, err := Parse("env.yml", []byte("port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
}

func TestLoadResolvesPathsAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  models: defs\n  storage: /var/objects\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "defs"), cfg.ModelsPath())
	assert.Equal(t, filepath.Join(dir, "public"), cfg.AssetsDir())
	assert.Equal(t, "/var/objects", cfg.StorageDir())
	assert.Empty(t, cfg.LogDir())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
