package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAWS()
	c.normalizeTail()
	c.normalizeQuery()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir()
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAWS() {
	c.AWS.Profile = strings.TrimSpace(c.AWS.Profile)
	c.AWS.Region = strings.TrimSpace(c.AWS.Region)
	c.AWS.Endpoint = strings.TrimSpace(c.AWS.Endpoint)
}

func (c *Config) normalizeTail() {
	if c.Tail.DedupWindow == 0 {
		c.Tail.DedupWindow = defaultDedupWindow
	}
	if c.Tail.BufferBatches == 0 {
		c.Tail.BufferBatches = defaultBufferBatches
	}
	if c.Tail.MaxStreamTargets == 0 {
		c.Tail.MaxStreamTargets = defaultMaxStreamTargets
	}
}

func (c *Config) normalizeQuery() {
	if c.Query.StopTimeoutSeconds == 0 {
		c.Query.StopTimeoutSeconds = defaultStopTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
