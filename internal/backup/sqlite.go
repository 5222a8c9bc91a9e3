package backup

import (
	"context"
	"database/sql"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	// sqlite driver
	_ "modernc.org/sqlite"
)

func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	return db, nil
}

// snapshot copies sourcePath to destPath with VACUUM INTO, which produces a
// consistent copy even while the source is in WAL mode and being written.
func snapshot(ctx context.Context, sourcePath, destPath string) error {
	db, err := openReadOnly(sourcePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return goerr.Wrap(err, "failed to ping source database", goerr.V("path", sourcePath))
	}
	quoted := "'" + strings.ReplaceAll(destPath, "'", "''") + "'"
	if _, err := db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return goerr.Wrap(err, "failed to back up database", goerr.V("source", sourcePath), goerr.V("dest", destPath))
	}
	return nil
}

// verify runs PRAGMA integrity_check against a backup and makes sure the
// graph tables are present.
func verify(ctx context.Context, path string) error {
	db, err := openReadOnly(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return goerr.Wrap(err, "failed to run integrity check", goerr.V("path", path))
	}
	if result != "ok" {
		return goerr.New("integrity check failed", goerr.V("path", path), goerr.V("result", result))
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vibes").Scan(&n); err != nil {
		return goerr.Wrap(err, "backup has no vibes table", goerr.V("path", path))
	}
	return nil
}

// restore copies a verified backup over targetPath. The target must not be
// open. Stale WAL and shared-memory files of the target are removed first.
func restore(ctx context.Context, backupPath, targetPath string) error {
	if err := verify(ctx, backupPath); err != nil {
		return goerr.Wrap(err, "backup verification failed")
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(targetPath + suffix); err != nil && !os.IsNotExist(err) {
			return goerr.Wrap(err, "failed to remove stale sidecar file", goerr.V("path", targetPath+suffix))
		}
	}

	src, err := os.Open(backupPath)
	if err != nil {
		return goerr.Wrap(err, "failed to open backup", goerr.V("path", backupPath))
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return goerr.Wrap(err, "failed to create target file", goerr.V("path", targetPath))
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return goerr.Wrap(err, "failed to copy backup", goerr.V("path", targetPath))
	}
	if err := dst.Sync(); err != nil {
		return goerr.Wrap(err, "failed to sync target file", goerr.V("path", targetPath))
	}

	if err := verify(ctx, targetPath); err != nil {
		return goerr.Wrap(err, "restored database verification failed")
	}
	return nil
}
