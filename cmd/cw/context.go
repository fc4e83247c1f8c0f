package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cw/internal/config"
	"cw/internal/history"
	"cw/internal/logging"
	"cw/internal/resultcache"
	"cw/internal/services"
	"cw/internal/services/cloudwatch"
)

type globalFlags struct {
	config    string
	profile   string
	region    string
	endpoint  string
	verbosity int
}

type commandContext struct {
	flags         *globalFlags
	correlationID string
	editorCommand string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	serviceOnce sync.Once
	service     services.LogService
	serviceErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{
		flags:         flags,
		correlationID: uuid.NewString(),
	}
}

// ensureConfig loads the configuration once. Command-line AWS flags take
// precedence over the [aws] section.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if v := strings.TrimSpace(c.flags.profile); v != "" {
			cfg.AWS.Profile = v
		}
		if v := strings.TrimSpace(c.flags.region); v != "" {
			cfg.AWS.Region = v
		}
		if v := strings.TrimSpace(c.flags.endpoint); v != "" {
			cfg.AWS.Endpoint = v
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger(cmd *cobra.Command) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg, c.flags.verbosity, cmd.ErrOrStderr())
		if err != nil {
			c.loggerErr = fmt.Errorf("init logging: %w", err)
			return
		}
		c.logger = logger.With(logging.String(logging.FieldCorrelationID, c.correlationID))
		c.logger.Debug("command started",
			logging.String("command", cmd.CommandPath()),
			logging.String("config_path", c.configPath),
		)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) loggerValue() *slog.Logger {
	if c.logger == nil {
		return logging.NewNop()
	}
	return c.logger
}

// commandCtx tags the command's context with the invocation correlation id.
func (c *commandContext) commandCtx(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return services.WithRequestID(ctx, c.correlationID)
}

func (c *commandContext) logService(ctx context.Context) (services.LogService, error) {
	if c.service != nil {
		return c.service, nil
	}
	c.serviceOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.serviceErr = err
			return
		}
		client, err := cloudwatch.New(ctx, cloudwatch.OptionsFromConfig(cfg.AWS))
		if err != nil {
			c.serviceErr = err
			return
		}
		c.service = client
	})
	return c.service, c.serviceErr
}

func (c *commandContext) withStore(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return fmt.Errorf("open query history: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) resultCache() (*resultcache.Cache, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return resultcache.Open(cfg.ResultCacheDir())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
