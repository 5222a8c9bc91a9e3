package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vibegraph/internal/storage"
	"github.com/scrypster/vibegraph/internal/storage/sqlite"
	"github.com/scrypster/vibegraph/pkg/types"
)

func writeGraph(t *testing.T, path string, ids ...string) {
	t.Helper()
	store, err := sqlite.New(path, storage.Options{})
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, store.Put(context.Background(), &types.Vibe{
			ID:       id,
			Name:     "vibe " + id,
			Category: types.CategoryTrend,
			Strength: 0.7,
		}))
	}
	require.NoError(t, store.Close())
}

func graphIDs(t *testing.T, path string) []string {
	t.Helper()
	store, err := sqlite.New(path, storage.Options{})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	all, err := store.All(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, v := range all {
		ids = append(ids, v.ID)
	}
	return ids
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")
	writeGraph(t, dbPath, "a", "b")

	svc, err := NewService(Config{DBPath: dbPath, Dir: filepath.Join(dir, "backups"), Verify: true})
	require.NoError(t, err)
	return svc, dbPath
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Dir: t.TempDir()})
	assert.Error(t, err)
	_, err = NewService(Config{DBPath: "graph.db"})
	assert.Error(t, err)

	svc, err := NewService(Config{DBPath: "graph.db", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultRetention, svc.cfg.Retention)
	assert.Equal(t, time.Hour, svc.cfg.Interval)
}

func TestBackupNowAndRestore(t *testing.T) {
	ctx := context.Background()
	svc, dbPath := newTestService(t)

	res, err := svc.BackupNow(ctx)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Positive(t, res.Size)
	assert.FileExists(t, res.Path)

	// Change the live graph, then roll it back.
	writeGraph(t, dbPath, "c")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, graphIDs(t, dbPath))

	require.NoError(t, svc.Restore(ctx, res.Path))
	assert.ElementsMatch(t, []string{"a", "b"}, graphIDs(t, dbPath))
	assert.NoFileExists(t, dbPath+".pre-restore")

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, res.Path, backups[0].Path)
}

func TestRestoreRejectsCorruptBackup(t *testing.T) {
	ctx := context.Background()
	svc, dbPath := newTestService(t)

	bad := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("not a database"), 0o600))

	assert.Error(t, svc.Restore(ctx, bad))
	assert.ElementsMatch(t, []string{"a", "b"}, graphIDs(t, dbPath))

	assert.Error(t, svc.Restore(ctx, filepath.Join(t.TempDir(), "missing.db")))
}

func TestBackupNowMissingDatabase(t *testing.T) {
	svc, err := NewService(Config{DBPath: filepath.Join(t.TempDir(), "none.db"), Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = svc.BackupNow(context.Background())
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(name string, age time.Duration) Info {
		return Info{Path: name, Timestamp: now.Add(-age)}
	}

	tests := []struct {
		name    string
		backups []Info
		policy  RetentionPolicy
		want    []string
	}{
		{
			name:    "empty",
			policy:  DefaultRetention,
			backups: nil,
			want:    nil,
		},
		{
			name:    "older than a year always goes",
			policy:  DefaultRetention,
			backups: []Info{at("h", time.Hour), at("ancient", 400*day)},
			want:    []string{"ancient"},
		},
		{
			name:    "hourly tier keeps newest",
			policy:  RetentionPolicy{Hourly: 2, Daily: 7, Weekly: 4, Monthly: 12},
			backups: []Info{at("h1", time.Hour), at("h2", 2*time.Hour), at("h3", 3*time.Hour)},
			want:    []string{"h3"},
		},
		{
			name:   "each tier counted separately",
			policy: RetentionPolicy{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1},
			backups: []Info{
				at("h1", time.Hour), at("h2", 5*time.Hour),
				at("d1", 2*day), at("d2", 3*day),
				at("w1", 10*day), at("w2", 20*day),
				at("m1", 40*day), at("m2", 90*day),
			},
			want: []string{"h2", "d2", "w2", "m2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expired(tt.backups, tt.policy, now))
		})
	}
}

func TestApplyRetentionRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i, age := range []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour} {
		path := filepath.Join(dir, "b"+string(rune('0'+i))+".db")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o600))

	removed, err := applyRetention(dir, RetentionPolicy{Hourly: 1}, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "b1.db"), filepath.Join(dir, "b2.db")}, removed)

	backups, err := listBackups(dir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, filepath.Join(dir, "b0.db"), backups[0].Path)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestListBackupsMissingDirectory(t *testing.T) {
	_, err := listBackups(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(Config{DBPath: "graph.db", Dir: dir, Interval: time.Hour})
	require.NoError(t, err)

	status, err := svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "no backups yet", status.Message)

	path := filepath.Join(dir, "old.db")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))
	old := time.Now().Add(-5 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	status, err = svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "warning", status.Status)
	assert.Equal(t, 1, status.TotalBackups)
	assert.Equal(t, int64(5), status.DiskSpaceUsed)
	assert.Contains(t, status.Message, "overdue")
}
