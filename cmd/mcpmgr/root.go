package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-stdio-manager-go/internal/config"
	"github.com/vikashloomba/mcp-stdio-manager-go/internal/logging"
	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/facade"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mcpmgr",
		Short: "Manage stdio MCP tool providers",
		Long: `mcpmgr spawns the MCP tool providers listed in its configuration,
performs the MCP handshake with each one and exposes their tools through a
single catalog. Without --config the built-in sequential-thinking provider is
used.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides config)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newToolsCmd(opts))
	cmd.AddCommand(newServersCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	return cmd
}

// env is what every subcommand needs: the loaded config, a logger and a façade.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	facade *facade.Facade
}

func (o *rootOptions) load(cmd *cobra.Command) (*env, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	logger, err := logging.InitForCLI(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}
	f := facade.New(cfg.Registry(), &facade.Options{
		Manager:     cfg.ManagerOptions(logging.For(logger, "manager")),
		InitTimeout: cfg.Timeouts.Init,
		Logger:      logging.For(logger, "facade"),
	})
	return &env{cfg: cfg, logger: logger, facade: f}, nil
}

// shutdown tears the providers down with a bound independent of the command's
// context, which is usually cancelled by then.
func (e *env) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.facade.Close(ctx); err != nil {
		e.logger.Warn("shutdown", "error", err)
	}
}
