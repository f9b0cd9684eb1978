package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/pipeline"
)

func newSubmitCmd() *cobra.Command {
	var (
		kind    string
		sources []string
		items   []string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a discovery or reanalysis run",
		Long: `Queues a run. Without a database the run only exists in this process,
so --wait executes it inline before exiting.`,
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

			orch := a.Orchestrator()
			run, err := orch.SubmitRun(cmd.Context(), pipeline.SubmitRequest{
				Kind:        news.RunKind(kind),
				SourceIDs:   sources,
				ItemIDs:     items,
				TriggeredBy: "cli",
			})
			if err != nil {
				return err
			}
			e.logger.Info("run queued", zap.String("run_id", run.ID))

			if wait {
				claimed, err := orch.ClaimNextRun(cmd.Context())
				if err != nil {
					return fmt.Errorf("claim run: %w", err)
				}
				if claimed != nil {
					if run, err = orch.Execute(cmd.Context(), *claimed); err != nil {
						return err
					}
				}
			}

			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return fmt.Errorf("encode run: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(news.RunKindDiscovery), "run kind: discovery or reanalysis")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source id to discover from (repeatable)")
	cmd.Flags().StringSliceVar(&items, "item", nil, "item id to reanalyze (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "execute the oldest queued run before exiting")
	return cmd
}
