package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rental-ingest/models"
	"rental-ingest/services/ingest"
	"rental-ingest/services/report"
)

type syncFlags struct {
	targetURL      string
	kind           string
	forceDiscovery bool
	limit          int
}

func (f *syncFlags) request(source string) (ingest.Request, error) {
	switch f.kind {
	case "", models.KindGeneric, models.KindWix:
	default:
		return ingest.Request{}, fmt.Errorf("--kind must be %s or %s, got %q", models.KindGeneric, models.KindWix, f.kind)
	}
	if f.limit < 0 {
		return ingest.Request{}, fmt.Errorf("--limit must not be negative")
	}
	return ingest.Request{
		SourceName:     source,
		TargetURL:      f.targetURL,
		Kind:           f.kind,
		ForceDiscovery: f.forceDiscovery,
		Limit:          f.limit,
	}, nil
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync <source>",
		Short: "Run one sync of a source and print its report",
		Long: `Fetch every listing of a source, normalize it and upsert it together with its photos.
The first sync of a source needs --url. Discovery runs automatically when no saved endpoints exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, true, func(a *app) error {
				run, err := a.engine.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				report.NewPrinter(cmd.OutOrStdout(), a.cfg.ErrorDisplayCap).Run(run)
				if run.Status == models.RunFailed {
					return fmt.Errorf("sync of %s failed", run.SourceName)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.targetURL, "url", "", "listings page of the source")
	cmd.Flags().StringVar(&flags.kind, "kind", "", "normalizer for endpoint records (generic or wix)")
	cmd.Flags().BoolVar(&flags.forceDiscovery, "force-discovery", false, "rediscover endpoints even when a saved result exists")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "stop after this many raw records (0 for no limit)")
	return cmd
}

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "discover <source>",
		Short: "Find the listing endpoints of a source and save them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, true, func(a *app) error {
				cfg, err := a.engine.Discover(cmd.Context(), req)
				if err != nil {
					return err
				}
				report.NewPrinter(cmd.OutOrStdout(), a.cfg.ErrorDisplayCap).Endpoints(cfg)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.targetURL, "url", "", "listings page of the source")
	cmd.Flags().StringVar(&flags.kind, "kind", "", "normalizer for endpoint records (generic or wix)")
	return cmd
}
