package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ligustah/relay/internal/app"
	"github.com/ligustah/relay/internal/worker"
)

func newWorkerCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker <url> <object-key>",
		Short: "Run one transfer and print its result as JSON",
		Long: `Download <url>, upload it as <object-key> and verify the stored size.
The status row for the key is updated at every step. The result is printed
to stdout as a single JSON object.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
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

			res, runErr := a.Worker().Run(ctx, args[0], args[1])
			if err := printResult(g, res); err != nil {
				return classify(err)
			}
			if runErr != nil {
				e := classify(runErr).(*exitError)
				e.quiet = true
				return e
			}
			return nil
		},
	}
}

func printResult(g *globalOptions, res worker.Result) error {
	enc := json.NewEncoder(g.stdout)
	return enc.Encode(res)
}
