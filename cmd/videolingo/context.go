package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"videolingo/internal/accel"
	"videolingo/internal/config"
	"videolingo/internal/history"
	"videolingo/internal/llmserver"
	"videolingo/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce  sync.Once
	logger      *slog.Logger
	loggerErr   error
	closeLogger func() error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.closeLogger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// close releases the log files opened by ensureLogger. It is safe to call
// more than once and when no logger was built.
func (c *commandContext) close() error {
	if c.closeLogger == nil {
		return nil
	}
	closeFn := c.closeLogger
	c.closeLogger = nil
	return closeFn()
}

func (c *commandContext) reclaimer(logger *slog.Logger) *accel.Reclaimer {
	return accel.NewFromConfig(c.config.Accelerator, logger)
}

func (c *commandContext) supervisor(logger *slog.Logger) *llmserver.Supervisor {
	return llmserver.NewSupervisor(llmserver.FromConfig(c.config.LocalLLM), llmserver.Options{
		Logger:    logger,
		Reclaimer: c.reclaimer(logger),
	})
}

func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
