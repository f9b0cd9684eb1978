package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/esg-news-digest/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), e.cfg, e.logger)
		},
	}
}
