package cli

import (
	"github.com/spf13/cobra"

	"rental-ingest/services/report"
)

func newRunsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded sync runs",
	}
	cmd.AddCommand(newRunsListCommand(opts), newRunsShowCommand(opts))
	return cmd
}

func newRunsListCommand(opts *rootOptions) *cobra.Command {
	var (
		source  string
		limit   int
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				runs, err := a.store.ListRuns(cmd.Context(), source, limit)
				if err != nil {
					return err
				}
				p := report.NewPrinter(cmd.OutOrStdout(), a.cfg.ErrorDisplayCap)
				p.Runs(runs)
				if summary && len(runs) > 0 {
					p.Summary(report.Summarize(runs))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only runs of this source")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().BoolVar(&summary, "summary", false, "print totals below the table")
	return cmd
}

func newRunsShowCommand(opts *rootOptions) *cobra.Command {
	var allErrors bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				run, err := a.store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				errorCap := a.cfg.ErrorDisplayCap
				if allErrors {
					errorCap = 0
				}
				report.NewPrinter(cmd.OutOrStdout(), errorCap).Run(run)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&allErrors, "all-errors", false, "print every recorded error")
	return cmd
}

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List stored sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				sources, err := a.store.ListSources(cmd.Context())
				if err != nil {
					return err
				}
				report.NewPrinter(cmd.OutOrStdout(), a.cfg.ErrorDisplayCap).Sources(sources)
				return nil
			})
		},
	}
}
