package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligustah/relay/internal/app"
	"github.com/ligustah/relay/internal/progress"
)

func newPeekCmd(g *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "peek <url>",
		Short: "Print the size a server reports for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return classify(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			size, ok := app.Downloader(cfg, logger).PeekRemoteSize(ctx, args[0])
			if !ok {
				fmt.Fprintln(g.stdout, "unknown")
				return nil
			}
			fmt.Fprintf(g.stdout, "%d (%s)\n", size, progress.FormatBytes(size))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")
	return cmd
}
