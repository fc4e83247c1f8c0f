package testsupport

import (
	"path/filepath"
	"testing"

	"cw/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Poll, follow and retry intervals are shrunk to milliseconds so tests that
// exercise waiting code paths finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.AWS = config.AWS{}
	cfgVal.Tail.FollowMinIntervalMS = 2
	cfgVal.Tail.FollowMaxIntervalMS = 10
	cfgVal.Tail.SettleDelayMS = 0
	cfgVal.Query.PollIntervalMS = 1
	cfgVal.Query.PollMaxIntervalMS = 5
	cfgVal.Query.StopTimeoutSeconds = 1
	cfgVal.Retry.BaseMS = 1
	cfgVal.Retry.MaxMS = 4
	cfgVal.Retry.Jitter = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDedupWindow overrides the tail deduplication window capacity.
func WithDedupWindow(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tail.DedupWindow = size
	}
}

// WithMaxStreamTargets overrides the prefix expansion limit.
func WithMaxStreamTargets(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tail.MaxStreamTargets = limit
	}
}

// WithQueryTimeout overrides the caller-imposed query timeout in seconds.
func WithQueryTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Query.TimeoutSeconds = seconds
	}
}

// WithResultCache toggles on-disk caching of completed query results.
func WithResultCache(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Query.CacheResults = enabled
	}
}

// WithConfig applies an arbitrary mutation to the test config.
func WithConfig(mutate func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		mutate(b.cfg)
	}
}

// BaseDir returns the temp root backing a config built by NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
