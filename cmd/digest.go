package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDigestCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Render and store a digest for the trailing window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer a.Close()

			window := e.cfg.DigestWindow()
			if hours > 0 {
				window = time.Duration(hours) * time.Hour
			}
			res, err := a.Digests().Publish(cmd.Context(), window)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "lookback window in hours (defaults to digest.window_hours)")
	return cmd
}
