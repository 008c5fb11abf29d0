package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"learnhub/pkg/utils"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*utils.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) utils.Config {
	t.Helper()

	base := t.TempDir()
	cfg := utils.Default()
	cfg.Database.Path = filepath.Join(base, "data.db")
	cfg.Storage.Root = filepath.Join(base, "packages")
	cfg.Storage.LegacyImagesDir = filepath.Join(base, "images")
	cfg.Storage.StagingDir = filepath.Join(base, "staging")
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.FeedAddr = "127.0.0.1:0"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.JWTDuration = time.Hour

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLimits overrides the extraction limits.
func WithLimits(maxEntries int, maxExtractedMB int64) ConfigOption {
	return func(c *utils.Config) {
		c.Storage.MaxEntries = maxEntries
		c.Storage.MaxExtractedMB = maxExtractedMB
	}
}
