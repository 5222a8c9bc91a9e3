package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scrypster/vibegraph/internal/collector"
	"github.com/scrypster/vibegraph/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		watch bool
		port  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the decay timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			watch = watch || cfg.Collectors.Watch

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.engine.StartDecayTimer(ctx)

			if watch && len(cfg.Collectors.Feeds) > 0 {
				w := collector.NewWatcher(cfg.Collectors.Feeds, cfg.Collectors.Debounce, func(ctx context.Context) {
					res, err := a.engine.RunCycle(ctx)
					if err != nil {
						log.WithError(err).Error("ingest cycle after feed change failed")
						return
					}
					log.WithFields(log.Fields{
						"collected": res.Collected,
						"created":   len(res.Ingest.Created),
						"merged":    len(res.Ingest.Merged),
					}).Info("feed change ingested")
				})
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
			}

			if cfg.Backup.Interval > 0 && cfg.Storage.Engine == "sqlite" {
				svc, err := newBackupService(cfg)
				if err != nil {
					return err
				}
				go svc.Run(ctx)
			}

			srv := server.New(cfg.Server, server.Deps{
				Engine:  a.engine,
				Matcher: a.matcher,
				Advisor: a.advisor,
				Version: VersionString(),
			})
			addr, err := srv.Start(ctx)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"addr": addr, "watch": watch}).Info("vibegraph serving")

			<-ctx.Done()
			log.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "run an ingest cycle whenever a configured feed changes")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured listen port")
	return cmd
}
