package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-stdio-manager-go/internal/logging"
	mcpgateway "github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcpapi"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect providers and serve the HTTP API and MCP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				e.cfg.HTTP.Addr = addr
			}
			return runServe(cmd, e)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, e *env) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer e.shutdown()

	out := cmd.OutOrStdout()
	cyan := color.New(color.FgCyan)
	onListen := func(addr string) {
		cyan.Fprintf(out, "mcpmgr serving on http://%s\n", addr)
		cyan.Fprintf(out, "  MCP gateway: http://%s%s\n", addr, e.cfg.HTTP.GatewayPath)
	}
	gateway, err := mcpgateway.NewGateway(e.facade, &mcpgateway.Options{
		Addr:     e.cfg.HTTP.Addr,
		Path:     e.cfg.HTTP.GatewayPath,
		OnListen: onListen,
		Logger:   logging.For(e.logger, "gateway"),
	})
	if err != nil {
		return err
	}
	api := mcpapi.New(e.facade, &mcpapi.Options{
		AllowedOrigins: e.cfg.HTTP.AllowedOrigins,
		Logger:         logging.For(e.logger, "api"),
	})
	gateway.ServeMux().Handle("/", api.Handler())

	gateway.Sync(ctx)
	if err := gateway.ListenAndServe(ctx); err != nil {
		return err
	}
	e.logger.Info("shut down")
	return nil
}
