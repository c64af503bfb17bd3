package config

import (
	"strings"
)

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}

func normalizeDriver(driver string) string {
	trimmed := strings.ToLower(strings.TrimSpace(driver))
	if trimmed == "" {
		return defaultStorageDriver
	}
	return trimmed
}

func normalizeProject(project string) string {
	trimmed := strings.Trim(strings.TrimSpace(project), "/")
	if trimmed == "" {
		return defaultProject
	}
	return trimmed
}

func normalizeRuntimePaths(paths RuntimePathsConfig) RuntimePathsConfig {
	paths.Models = strings.TrimSpace(paths.Models)
	paths.Layer = strings.TrimSpace(paths.Layer)
	paths.Assets = strings.TrimSpace(paths.Assets)
	paths.Storage = strings.TrimSpace(paths.Storage)
	paths.Logs = strings.TrimSpace(paths.Logs)
	return paths
}

func normalizeS3Options(opts S3Options) S3Options {
	opts.Endpoint = strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	opts.AccessKeyID = strings.TrimSpace(opts.AccessKeyID)
	opts.SecretAccessKey = strings.TrimSpace(opts.SecretAccessKey)
	opts.Bucket = strings.TrimSpace(opts.Bucket)
	opts.Region = strings.TrimSpace(opts.Region)
	opts.Prefix = strings.Trim(strings.TrimSpace(opts.Prefix), "/")
	return opts
}
