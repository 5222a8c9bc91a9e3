package cli

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/scrypster/vibegraph/internal/backup"
	"github.com/scrypster/vibegraph/internal/config"
)

func newBackupService(cfg *config.Config) (*backup.Service, error) {
	if cfg.Storage.Engine != "sqlite" {
		return nil, goerr.New("backups require the sqlite storage engine", goerr.V("engine", cfg.Storage.Engine))
	}
	return backup.NewService(backup.Config{
		DBPath:   cfg.Storage.DataPath,
		Dir:      cfg.Backup.Dir,
		Interval: cfg.Backup.Interval,
		Verify:   cfg.Backup.Verify,
		Retention: backup.RetentionPolicy{
			Hourly:  cfg.Backup.Hourly,
			Daily:   cfg.Backup.Daily,
			Weekly:  cfg.Backup.Weekly,
			Monthly: cfg.Backup.Monthly,
		},
	})
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the sqlite graph database now",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newBackupService(opts.cfg)
			if err != nil {
				return err
			}
			res, err := svc.BackupNow(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newBackupService(opts.cfg)
			if err != nil {
				return err
			}
			health, err := svc.Health()
			if err != nil {
				return err
			}
			backups, err := svc.List()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"health":  health,
				"backups": backups,
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <backup.db>",
		Short: "Replace the graph database with a backup (stop the server first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newBackupService(opts.cfg)
			if err != nil {
				return err
			}
			return svc.Restore(cmd.Context(), args[0])
		},
	})
	return cmd
}
