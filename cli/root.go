// Package cli implements the rental-ingest command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel string
	debug    bool
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "rental-ingest",
		Short:        "Discover, fetch and store rental listings",
		Long:         `rental-ingest finds the private listing APIs behind rental sites, pages through them and keeps a normalized copy of every listing and its photos in PostgreSQL.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging at debug level")

	cmd.AddCommand(
		newDiscoverCommand(opts),
		newSyncCommand(opts),
		newRunsCommand(opts),
		newSourcesCommand(opts),
		newServeCommand(opts),
		newScheduleCommand(opts),
	)
	return cmd
}

// withApp builds the app, runs fn and closes the app afterwards.
func withApp(ctx context.Context, opts *rootOptions, engine bool, fn func(a *app) error) (err error) {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", cerr)
		}
	}()
	if engine {
		if err := a.withEngine(ctx); err != nil {
			return err
		}
	}
	return fn(a)
}
