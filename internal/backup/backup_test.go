package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/internal/storage/badger"
)

func newTestEngine(t *testing.T) *badger.Engine {
	t.Helper()
	eng, err := badger.Open("", storage.CompactionPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestSnapshotFileName(t *testing.T) {
	ts := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	require.Equal(t, "hearth-backup-2026-08-31.json", SnapshotFileName(ts))
}

func TestBackupNowAndRestore(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	require.NoError(t, eng.Put(ctx, storage.TableCharacters, storage.Row{"id": "c1", "name": "Sable"}))
	require.NoError(t, eng.Put(ctx, storage.TablePosts, storage.Row{"id": "p1", "character_id": "c1", "content": "hi"}))

	dir := t.TempDir()
	svc, err := NewService(eng, Config{BackupDir: dir, Verify: true})
	require.NoError(t, err)

	result, err := svc.BackupNow(ctx)
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, 2, result.Rows)
	require.Greater(t, result.Size, int64(0))
	require.True(t, strings.HasPrefix(filepath.Base(result.Path), "hearth-backup-"))
	require.True(t, strings.HasSuffix(result.Path, ".json"))

	t.Run("restore into a fresh engine", func(t *testing.T) {
		fresh := newTestEngine(t)
		freshSvc, err := NewService(fresh, Config{BackupDir: dir})
		require.NoError(t, err)

		require.NoError(t, freshSvc.Restore(ctx, result.Path))

		row, err := fresh.Get(ctx, storage.TableCharacters, "c1")
		require.NoError(t, err)
		require.Equal(t, "Sable", row["name"])
	})

	t.Run("list backups", func(t *testing.T) {
		backups, err := svc.ListBackups()
		require.NoError(t, err)
		require.Len(t, backups, 1)
		require.Equal(t, result.Path, backups[0].Path)
	})

	t.Run("health check", func(t *testing.T) {
		status, err := svc.HealthCheck()
		require.NoError(t, err)
		require.Equal(t, "healthy", status.Status)
		require.Equal(t, 1, status.TotalBackups)
		require.False(t, status.LastBackup.IsZero())
	})
}

func TestVerifySnapshotRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hearth-backup-bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o600))

	_, err := VerifySnapshot(path)
	require.Error(t, err)
}

func TestRetention(t *testing.T) {
	dir := t.TempDir()

	writeAged := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
		ts := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	// Three fresh snapshots with a keep-two policy drops the oldest.
	writeAged("hearth-backup-a.json", 1*time.Hour)
	writeAged("hearth-backup-b.json", 2*time.Hour)
	writeAged("hearth-backup-c.json", 3*time.Hour)
	// Ancient snapshots go regardless of tier limits.
	writeAged("hearth-backup-old.json", 400*24*time.Hour)
	// Files without the snapshot naming are never touched.
	writeAged("notes.txt", 400*24*time.Hour)

	policy := RetentionPolicy{Hourly: 2, Daily: 7, Weekly: 4, Monthly: 12}
	require.NoError(t, applyRetention(dir, policy))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"hearth-backup-a.json", "hearth-backup-b.json", "notes.txt"}, names)
}

func TestServiceStartStop(t *testing.T) {
	eng := newTestEngine(t)
	svc, err := NewService(eng, Config{BackupDir: t.TempDir(), Interval: time.Hour})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, svc.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	require.Error(t, svc.Stop(), "double stop should error")
}
