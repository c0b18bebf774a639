package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ligustah/relay/internal/app"
)

func newRetryCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <object-key>...",
		Short: "Re-queue transfers from their original URL",
		Long: `Mark each key pending, bump its retry counter and start a new worker for
it. Keys without a row or without an original URL are skipped. The command
waits for the started workers to finish.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return classify(err)
			}
			ctx := context.Background()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return classify(err)
			}
			defer a.Close()

			spawner, err := a.Spawner(ctx, g.childArgs())
			if err != nil {
				return classify(err)
			}
			results, err := a.Dispatcher(spawner).Retry(ctx, args)
			spawner.Wait()
			if err != nil {
				return classify(err)
			}
			return classify(json.NewEncoder(g.stdout).Encode(results))
		},
	}
}

func newDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <object-key>...",
		Short: "Delete status rows and stored objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return classify(err)
			}
			ctx := context.Background()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return classify(err)
			}
			defer a.Close()

			res, err := a.Dispatcher(nil).Delete(ctx, args)
			if err != nil {
				return classify(err)
			}
			return classify(json.NewEncoder(g.stdout).Encode(res))
		},
	}
}
