package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTail(); err != nil {
		return err
	}
	if err := c.validateQuery(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateTail() error {
	if c.Tail.FollowMinIntervalMS <= 0 {
		return errors.New("tail.follow_min_interval_ms must be positive")
	}
	if c.Tail.FollowMaxIntervalMS < c.Tail.FollowMinIntervalMS {
		return errors.New("tail.follow_max_interval_ms must be >= tail.follow_min_interval_ms")
	}
	if c.Tail.FollowFactor < 1 {
		return errors.New("tail.follow_factor must be >= 1")
	}
	if c.Tail.SettleDelayMS < 0 {
		return errors.New("tail.settle_delay_ms must be >= 0")
	}
	if c.Tail.DedupWindow < 1 {
		return errors.New("tail.dedup_window must be positive")
	}
	if c.Tail.DefaultLookbackSeconds < 0 {
		return errors.New("tail.default_lookback_seconds must be >= 0")
	}
	if c.Tail.PageLimit < 1 || c.Tail.PageLimit > 10000 {
		return errors.New("tail.page_limit must be between 1 and 10000")
	}
	if c.Tail.MaxStreamTargets < 1 {
		return errors.New("tail.max_stream_targets must be positive")
	}
	if c.Tail.BufferBatches < 1 {
		return errors.New("tail.buffer_batches must be positive")
	}
	return nil
}

func (c *Config) validateQuery() error {
	if c.Query.PollIntervalMS <= 0 {
		return errors.New("query.poll_interval_ms must be positive")
	}
	if c.Query.PollMaxIntervalMS < c.Query.PollIntervalMS {
		return errors.New("query.poll_max_interval_ms must be >= query.poll_interval_ms")
	}
	if c.Query.PollFactor < 1 {
		return errors.New("query.poll_factor must be >= 1")
	}
	if c.Query.TimeoutSeconds < 0 {
		return errors.New("query.timeout_seconds must be >= 0 (0 disables the timeout)")
	}
	if c.Query.StopTimeoutSeconds < 1 {
		return errors.New("query.stop_timeout_seconds must be positive")
	}
	if c.Query.DefaultRangeSeconds <= 0 {
		return errors.New("query.default_range_seconds must be positive")
	}
	if c.Query.ResultLimit < 1 || c.Query.ResultLimit > 10000 {
		return errors.New("query.result_limit must be between 1 and 10000")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.BaseMS <= 0 {
		return errors.New("retry.base_ms must be positive")
	}
	if c.Retry.MaxMS < c.Retry.BaseMS {
		return errors.New("retry.max_ms must be >= retry.base_ms")
	}
	if c.Retry.Factor < 1 {
		return errors.New("retry.factor must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
