package main

import (
	"cw/internal/config"
	"cw/internal/retry"
)

func retryPolicy(cfg *config.Config) retry.Policy {
	base, maxDelay := cfg.RetryBackoff()
	return retry.Policy{
		Base:        base,
		Factor:      cfg.Retry.Factor,
		Max:         maxDelay,
		Jitter:      cfg.Retry.Jitter,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
}

func followPolicy(cfg *config.Config) retry.Policy {
	base, maxDelay := cfg.FollowInterval()
	return retry.Policy{Base: base, Factor: cfg.Tail.FollowFactor, Max: maxDelay}
}

func pollPolicy(cfg *config.Config) retry.Policy {
	base, maxDelay := cfg.PollInterval()
	return retry.Policy{Base: base, Factor: cfg.Query.PollFactor, Max: maxDelay}
}
