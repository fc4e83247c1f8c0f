package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultFollowMinIntervalMS = 1000
	defaultFollowMaxIntervalMS = 10000
	defaultFollowFactor        = 2.0
	defaultSettleDelayMS       = 2000
	defaultDedupWindow         = 10000
	defaultLookbackSeconds     = 30
	defaultPageLimit           = 10000
	defaultMaxStreamTargets    = 25
	defaultBufferBatches       = 4
	defaultPollIntervalMS      = 1000
	defaultPollMaxIntervalMS   = 5000
	defaultPollFactor          = 1.5
	defaultQueryTimeoutSeconds = 900
	defaultStopTimeoutSeconds  = 5
	defaultQueryRangeSeconds   = 3600
	defaultQueryResultLimit    = 1000
	defaultRetryBaseMS         = 200
	defaultRetryMaxMS          = 5000
	defaultRetryFactor         = 2.0
	defaultRetryJitter         = 0.2
	defaultRetryMaxAttempts    = 5
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultDataDirFallback     = "~/.local/share/cw"
	defaultCacheDirFallback    = "~/.cache/cw"
	xdgDataHomeEnv             = "XDG_DATA_HOME"
	xdgCacheHomeEnv            = "XDG_CACHE_HOME"
	appDirName                 = "cw"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir(),
			CacheDir: defaultCacheDir(),
		},
		Tail: Tail{
			FollowMinIntervalMS:    defaultFollowMinIntervalMS,
			FollowMaxIntervalMS:    defaultFollowMaxIntervalMS,
			FollowFactor:           defaultFollowFactor,
			SettleDelayMS:          defaultSettleDelayMS,
			DedupWindow:            defaultDedupWindow,
			DefaultLookbackSeconds: defaultLookbackSeconds,
			PageLimit:              defaultPageLimit,
			MaxStreamTargets:       defaultMaxStreamTargets,
			BufferBatches:          defaultBufferBatches,
		},
		Query: Query{
			PollIntervalMS:      defaultPollIntervalMS,
			PollMaxIntervalMS:   defaultPollMaxIntervalMS,
			PollFactor:          defaultPollFactor,
			TimeoutSeconds:      defaultQueryTimeoutSeconds,
			StopTimeoutSeconds:  defaultStopTimeoutSeconds,
			DefaultRangeSeconds: defaultQueryRangeSeconds,
			ResultLimit:         defaultQueryResultLimit,
			CacheResults:        true,
		},
		Retry: Retry{
			BaseMS:      defaultRetryBaseMS,
			MaxMS:       defaultRetryMaxMS,
			Factor:      defaultRetryFactor,
			Jitter:      defaultRetryJitter,
			MaxAttempts: defaultRetryMaxAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultDataDir() string {
	return xdgDir(xdgDataHomeEnv, defaultDataDirFallback)
}

func defaultCacheDir() string {
	return xdgDir(xdgCacheHomeEnv, defaultCacheDirFallback)
}

func xdgDir(env, fallback string) string {
	if base, ok := os.LookupEnv(env); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, appDirName)
	}
	return fallback
}
