package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ligustah/relay/internal/app"
	"github.com/ligustah/relay/internal/config"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transfer and admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.loadWith(config.Config{
				Server: config.ServerConfig{Addr: addr},
			})
			if err != nil {
				return classify(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return classify(err)
			}
			defer a.Close()

			if migrate {
				if err := a.Status.Migrate(ctx); err != nil {
					return classify(err)
				}
			}

			spawner, err := a.Spawner(ctx, g.childArgs())
			if err != nil {
				return classify(err)
			}
			srv := a.Server(a.Dispatcher(spawner))

			err = srv.ListenAndServe(ctx, cfg.Server.Addr)
			logger.Info("waiting for running transfers")
			spawner.Wait()
			return classify(err)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create or update the uploads table on start")
	return cmd
}
