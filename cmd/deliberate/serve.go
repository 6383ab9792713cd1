package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/eventbridge"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results, live events and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(projectDir, runtimeOptions{console: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr != "" {
				rt.cfg.Project.Bridge.Addr = addr
			}
			settings := eventbridge.SettingsFromConfig(rt.cfg)
			router := eventbridge.NewRouter(eventbridge.RouterWithLogger(rt.logger.Logger))
			srv := eventbridge.NewServer(settings,
				eventbridge.WithRouter(router),
				eventbridge.WithStore(rt.store),
				eventbridge.WithMetrics(rt.metrics),
				eventbridge.WithLogger(rt.logger.Logger),
			)
			ctx := cmd.Context()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "Serving on %s (Ctrl+C to stop)\n", srv.BaseURL())
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rt.logger.Warn("shutdown", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding bridge.addr")
	return cmd
}
