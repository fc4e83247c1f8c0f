package main

import (
	"os"
	"path/filepath"
	"testing"

	"cw/internal/config"
	"cw/internal/testsupport"
)

func TestVersionFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "-V")
	if err != nil {
		t.Fatalf("-V: %v", err)
	}
	requireContains(t, out, version)
}

func TestInfoShowsStorageLocations(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	requireContains(t, out, "Database:       SQLite 3.")
	requireContains(t, out, "Schema version: 1")
	requireContains(t, out, env.cfg.DatabasePath())
	requireContains(t, out, env.cfg.LogPath())
	requireContains(t, out, env.configPath)
}

func TestAWSFlagsOverrideConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.AWS.Region = "us-east-1"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, env, "--region", "eu-central-1", "--profile", "ops", "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	requireContains(t, out, "AWS region:     eu-central-1")
	requireContains(t, out, "AWS profile:    ops")
}

func TestVerboseMirrorsLogsToStderr(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Logging.Format = "json"
	}))
	env.fake.AddGroup("app", 0)

	_, stderr, err := runCLI(t, env, "-v", "tail", "app", "-s", "2024-01-01T00:00:00Z", "-e", "2024-01-01T00:10:00Z")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	requireContains(t, stderr, "tail finished")

	logData, err := os.ReadFile(env.cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	requireContains(t, string(logData), "correlation_id")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestBrokenConfigFails(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.WriteFile(env.configPath, []byte("[tail]\nfollow_factor = 0.5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := runCLI(t, env, "info"); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func TestConfigShowReflectsFlagOverrides(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "--region", "eu-west-3", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[aws]")
	requireContains(t, out, "eu-west-3")
	requireContains(t, out, "[tail]")
}
