package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/relay/internal/app"
)

func newMigrateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the uploads table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return classify(err)
			}
			st, err := app.OpenStatus(cfg)
			if err != nil {
				return classify(err)
			}
			defer st.Close()

			if err := st.Migrate(context.Background()); err != nil {
				return classify(err)
			}
			logger.WithField("driver", cfg.Database.Driver).Info("uploads table ready")
			fmt.Fprintln(g.stdout, "ok")
			return nil
		},
	}
}
