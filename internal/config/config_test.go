package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cw/internal/config"
)

func TestLoadDefaultConfigUsesXDGDirectories(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", filepath.Join(tempHome, "data"))
	t.Setenv("XDG_CACHE_HOME", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "cw", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, "data", "cw"); cfg.Paths.DataDir != want {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, want)
	}
	if want := filepath.Join(tempHome, ".cache", "cw"); cfg.Paths.CacheDir != want {
		t.Fatalf("unexpected cache dir: got %q want %q", cfg.Paths.CacheDir, want)
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.DataDir, "db.sqlite3") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.LogPath() != filepath.Join(cfg.Paths.CacheDir, "cw.log") {
		t.Fatalf("unexpected log path %q", cfg.LogPath())
	}
	if lookback := cfg.DefaultLookback(); lookback != 30*time.Second {
		t.Fatalf("expected 30s default lookback, got %s", lookback)
	}
	minInterval, maxInterval := cfg.FollowInterval()
	if minInterval != time.Second || maxInterval != 10*time.Second {
		t.Fatalf("unexpected follow interval %s..%s", minInterval, maxInterval)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "cw.toml")
	content := `
[paths]
data_dir = "~/cw-data"

[aws]
profile = " staging "
region = "eu-west-1"

[tail]
follow_min_interval_ms = 250
follow_max_interval_ms = 4000
dedup_window = 500

[query]
timeout_seconds = 0
cache_results = false

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q (exists=%v)", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "cw-data") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.DataDir)
	}
	if cfg.AWS.Profile != "staging" || cfg.AWS.Region != "eu-west-1" {
		t.Fatalf("unexpected aws section: %+v", cfg.AWS)
	}
	if cfg.Tail.DedupWindow != 500 || cfg.Tail.FollowMinIntervalMS != 250 {
		t.Fatalf("unexpected tail section: %+v", cfg.Tail)
	}
	if cfg.QueryTimeout() != 0 {
		t.Fatalf("expected disabled timeout, got %s", cfg.QueryTimeout())
	}
	if cfg.Query.CacheResults {
		t.Fatal("expected cache_results=false to be honoured")
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging section, got %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "cw.toml")
	if err := os.WriteFile(configPath, []byte("[tail]\nfollow_interval = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"follow min", func(c *config.Config) { c.Tail.FollowMinIntervalMS = 0 }, "tail.follow_min_interval_ms"},
		{"follow max", func(c *config.Config) { c.Tail.FollowMaxIntervalMS = 10 }, "tail.follow_max_interval_ms"},
		{"follow factor", func(c *config.Config) { c.Tail.FollowFactor = 0.5 }, "tail.follow_factor"},
		{"dedup window", func(c *config.Config) { c.Tail.DedupWindow = -1 }, "tail.dedup_window"},
		{"page limit", func(c *config.Config) { c.Tail.PageLimit = 20000 }, "tail.page_limit"},
		{"poll factor", func(c *config.Config) { c.Query.PollFactor = 0 }, "query.poll_factor"},
		{"jitter", func(c *config.Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	target := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded map[string]any
	if err := toml.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	for _, section := range []string{"paths", "aws", "tail", "query", "retry", "logging"} {
		if _, ok := decoded[section]; !ok {
			t.Fatalf("expected section %q in sample config", section)
		}
	}

	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Tail.DedupWindow != config.Default().Tail.DedupWindow {
		t.Fatalf("sample dedup window drifted from defaults: %d", cfg.Tail.DedupWindow)
	}
}
