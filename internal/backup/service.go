package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
)

// Service takes scheduled and on-demand backups of one sqlite database.
type Service struct {
	cfg Config
	now func() time.Time
}

// NewService validates cfg and creates the backup directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, goerr.New("database path is required")
	}
	if cfg.Dir == "" {
		return nil, goerr.New("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create backup directory", goerr.V("dir", cfg.Dir))
	}
	return &Service{cfg: cfg, now: time.Now}, nil
}

// Run takes a backup every Interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{"interval": s.cfg.Interval, "dir": s.cfg.Dir}).Info("backup schedule started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.BackupNow(ctx)
			if err != nil {
				log.WithError(err).Error("scheduled backup failed")
				continue
			}
			log.WithFields(log.Fields{
				"path":     res.Path,
				"size":     res.Size,
				"duration": res.Duration,
				"verified": res.Verified,
				"removed":  len(res.Removed),
			}).Info("scheduled backup completed")
		}
	}
}

// BackupNow writes a timestamped copy of the database, verifies it when
// configured, then applies the retention policy. A retention failure is
// logged and does not fail the backup.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.now()
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, goerr.Wrap(err, "database not found", goerr.V("path", s.cfg.DBPath))
	}

	name := fmt.Sprintf("vibegraph-%s.db", start.UTC().Format("20060102-150405.000000"))
	path := filepath.Join(s.cfg.Dir, name)
	if err := snapshot(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat backup", goerr.V("path", path))
	}
	res := &Result{Path: path, Size: fi.Size()}

	if s.cfg.Verify {
		if err := verify(ctx, path); err != nil {
			return nil, goerr.Wrap(err, "backup verification failed", goerr.V("path", path))
		}
		res.Verified = true
	}

	removed, err := applyRetention(s.cfg.Dir, s.cfg.Retention, s.now())
	if err != nil {
		log.WithError(err).Warn("failed to apply backup retention")
	}
	res.Removed = removed
	res.Duration = s.now().Sub(start)
	return res, nil
}

// List returns the backups on disk, newest first.
func (s *Service) List() ([]Info, error) {
	return listBackups(s.cfg.Dir)
}

// Restore replaces the database with backupPath. Nothing may hold the
// database open. The current database is copied aside first and put back
// if the restore fails.
func (s *Service) Restore(ctx context.Context, backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return goerr.Wrap(err, "backup not found", goerr.V("path", backupPath))
	}

	aside := s.cfg.DBPath + ".pre-restore"
	haveAside := false
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		_ = os.Remove(aside)
		if err := snapshot(ctx, s.cfg.DBPath, aside); err != nil {
			return goerr.Wrap(err, "failed to save current database before restore")
		}
		haveAside = true
		defer func() { _ = os.Remove(aside) }()
	}

	if err := restore(ctx, backupPath, s.cfg.DBPath); err != nil {
		if !haveAside {
			return err
		}
		if rbErr := restore(ctx, aside, s.cfg.DBPath); rbErr != nil {
			return goerr.Wrap(err, "restore failed and rollback failed", goerr.V("rollback_error", rbErr.Error()))
		}
		return goerr.Wrap(err, "restore failed, previous database kept")
	}

	log.WithField("backup", backupPath).Info("database restored")
	return nil
}

// Health reports the backup directory state. It warns when the newest
// backup is more than two intervals old.
func (s *Service) Health() (*HealthStatus, error) {
	backups, err := s.List()
	if err != nil {
		return nil, err
	}

	status := &HealthStatus{
		Status:        "healthy",
		TotalBackups:  len(backups),
		Dir:           s.cfg.Dir,
		DiskSpaceUsed: diskUsage(backups),
	}
	if len(backups) == 0 {
		status.Message = "no backups yet"
		return status, nil
	}

	status.LastBackup = backups[0].Timestamp
	age := s.now().Sub(status.LastBackup)
	if age > 2*s.cfg.Interval {
		status.Status = "warning"
		status.Message = fmt.Sprintf("backup overdue by %v", (age - s.cfg.Interval).Round(time.Minute))
	} else {
		status.Message = fmt.Sprintf("last backup %v ago", age.Round(time.Second))
	}
	return status, nil
}
