package cli

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rental-ingest/api"
	"rental-ingest/services/ingest"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr     string
		schedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, true, func(a *app) error {
				if addr == "" {
					addr = a.cfg.HTTPAddr
				}
				if a.cfg.LogDevelopment {
					gin.SetMode(gin.DebugMode)
				} else {
					gin.SetMode(gin.ReleaseMode)
				}

				if schedule {
					sched, err := newScheduler(cmd.Context(), a)
					if err != nil {
						return err
					}
					sched.Start()
					defer sched.Stop()
				}

				h := api.NewHandler(a.engine, a.store, a.store, a.store, a.cfg.ErrorDisplayCap)
				srv := api.NewServer(addr, h, a.logger)

				errCh := make(chan error, 1)
				go func() { errCh <- srv.ListenAndServe() }()

				select {
				case err := <-errCh:
					return err
				case <-cmd.Context().Done():
				}
				a.logger.Info("shutting down http server")
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides HTTP_ADDR")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "also run the sync and discovery schedules")
	return cmd
}

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Sync every stored source on SYNC_SCHEDULE and rediscover on DISCOVERY_SCHEDULE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, true, func(a *app) error {
				sched, err := newScheduler(cmd.Context(), a)
				if err != nil {
					return err
				}
				sched.Start()
				<-cmd.Context().Done()
				a.logger.Info("stopping scheduler")
				sched.Stop()
				return nil
			})
		},
	}
}

func newScheduler(ctx context.Context, a *app) (*ingest.Scheduler, error) {
	a.logger.Info("schedules",
		zap.String("sync", a.cfg.SyncSchedule),
		zap.String("discovery", a.cfg.DiscoverySchedule))
	return ingest.NewScheduler(ctx, a.engine, a.store, a.cfg.SyncSchedule, a.cfg.DiscoverySchedule, a.logger)
}
