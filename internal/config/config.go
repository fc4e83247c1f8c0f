package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the per-user data and cache directories.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	CacheDir string `toml:"cache_dir"`
}

// AWS contains defaults for the remote log service client. Command-line
// flags take precedence over these values.
type AWS struct {
	Profile  string `toml:"profile"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
}

// Tail contains live tail tuning.
type Tail struct {
	FollowMinIntervalMS    int     `toml:"follow_min_interval_ms"`
	FollowMaxIntervalMS    int     `toml:"follow_max_interval_ms"`
	FollowFactor           float64 `toml:"follow_factor"`
	SettleDelayMS          int     `toml:"settle_delay_ms"`
	DedupWindow            int     `toml:"dedup_window"`
	DefaultLookbackSeconds int     `toml:"default_lookback_seconds"`
	PageLimit              int     `toml:"page_limit"`
	MaxStreamTargets       int     `toml:"max_stream_targets"`
	BufferBatches          int     `toml:"buffer_batches"`
}

// Query contains analytical query execution settings.
type Query struct {
	PollIntervalMS      int     `toml:"poll_interval_ms"`
	PollMaxIntervalMS   int     `toml:"poll_max_interval_ms"`
	PollFactor          float64 `toml:"poll_factor"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	StopTimeoutSeconds  int     `toml:"stop_timeout_seconds"`
	DefaultRangeSeconds int     `toml:"default_range_seconds"`
	ResultLimit         int     `toml:"result_limit"`
	CacheResults        bool    `toml:"cache_results"`
}

// Retry contains the backoff policy applied to transient remote failures.
type Retry struct {
	BaseMS      int     `toml:"base_ms"`
	MaxMS       int     `toml:"max_ms"`
	Factor      float64 `toml:"factor"`
	Jitter      float64 `toml:"jitter"`
	MaxAttempts int     `toml:"max_attempts"`
}

// Logging contains configuration for the diagnostic log file.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cw.
//
// Configuration sections by subsystem:
//   - Paths: data directory (history database) and cache directory (log file, result cache)
//   - AWS: profile, region and endpoint defaults for the log service client
//   - Tail: follow-mode backoff, deduplication window and fan-out limits
//   - Query: poll cadence, caller timeout and result caching
//   - Retry: transient failure policy shared by fetch and poll calls
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	AWS     AWS     `toml:"aws"`
	Tail    Tail    `toml:"tail"`
	Query   Query   `toml:"query"`
	Retry   Retry   `toml:"retry"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	if base, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && strings.TrimSpace(base) != "" {
		return expandPath(filepath.Join(base, "cw", "config.toml"))
	}
	return expandPath("~/.config/cw/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cw.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and cache directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the query history database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "db.sqlite3")
}

// LogPath returns the location of the diagnostic log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.CacheDir, "cw.log")
}

// ResultCacheDir returns the directory holding compressed query result sets.
func (c *Config) ResultCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "results")
}

// FollowInterval returns the minimum and maximum wait between empty follow polls.
func (c *Config) FollowInterval() (time.Duration, time.Duration) {
	return millis(c.Tail.FollowMinIntervalMS), millis(c.Tail.FollowMaxIntervalMS)
}

// SettleDelay returns how far behind the poll start a follow frontier trails.
func (c *Config) SettleDelay() time.Duration {
	return millis(c.Tail.SettleDelayMS)
}

// DefaultLookback returns how far back a tail starts when no start time is given.
func (c *Config) DefaultLookback() time.Duration {
	return time.Duration(c.Tail.DefaultLookbackSeconds) * time.Second
}

// PollInterval returns the minimum and maximum wait between query status polls.
func (c *Config) PollInterval() (time.Duration, time.Duration) {
	return millis(c.Query.PollIntervalMS), millis(c.Query.PollMaxIntervalMS)
}

// QueryTimeout returns the caller-imposed wall-clock limit for a query run.
// Zero disables the limit.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutSeconds) * time.Second
}

// StopTimeout bounds the best-effort remote stop issued when a query is abandoned.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Query.StopTimeoutSeconds) * time.Second
}

// DefaultQueryRange returns the lookback used when a query has no start time.
func (c *Config) DefaultQueryRange() time.Duration {
	return time.Duration(c.Query.DefaultRangeSeconds) * time.Second
}

// RetryBackoff returns the base and maximum delay for transient retries.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return millis(c.Retry.BaseMS), millis(c.Retry.MaxMS)
}

func millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
