package config

import (
	"os"
	"path/filepath"
	"strings"
)

// WorkingDir returns the current working directory, falling back to ".".
func WorkingDir() string {
	if wd, err := os.Getwd(); err == nil && strings.TrimSpace(wd) != "" {
		return wd
	}
	return "."
}

// ResolveRuntimePath resolves raw against baseDir (the config file's
// directory, or the working directory when empty).
func ResolveRuntimePath(baseDir, raw, fallback string) string {
	base := strings.TrimSpace(baseDir)
	if base == "" {
		base = WorkingDir()
	}
	target := strings.TrimSpace(raw)
	if target == "" {
		target = strings.TrimSpace(fallback)
		if target == "" {
			return base
		}
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(base, target))
}
