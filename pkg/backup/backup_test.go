package backup_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peycheff/crewledger/pkg/backup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "crewledger.db")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreate_CopiesFileAndAppendsManifest(t *testing.T) {
	dbPath := newTestDB(t, "fake-sqlite-bytes")
	backupsDir := t.TempDir()
	mgr := backup.NewManager(dbPath, backupsDir)

	now := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	man, err := mgr.Create(now)
	require.NoError(t, err)
	assert.Equal(t, "backup_20260731_103000.db", man.File)
	assert.Equal(t, int64(len("fake-sqlite-bytes")), man.SizeBytes)
	assert.NotEmpty(t, man.SHA256)

	raw, err := os.ReadFile(filepath.Join(backupsDir, man.File))
	require.NoError(t, err)
	assert.Equal(t, "fake-sqlite-bytes", string(raw))

	mans, err := mgr.Manifests()
	require.NoError(t, err)
	require.Len(t, mans, 1)
	assert.Equal(t, man.SHA256, mans[0].SHA256)
}

func TestStatus_ReflectsLatestBackup(t *testing.T) {
	dbPath := newTestDB(t, "v1")
	backupsDir := t.TempDir()
	mgr := backup.NewManager(dbPath, backupsDir)

	st, err := mgr.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, st.BackupCount)

	first, err := mgr.Create(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = mgr.Create(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	st, err = mgr.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, st.BackupCount)
	assert.NotEqual(t, first.File, st.LatestFile)
}

func TestRestore_SwapsFileOnMatchingHash(t *testing.T) {
	dbPath := newTestDB(t, "original")
	backupsDir := t.TempDir()
	mgr := backup.NewManager(dbPath, backupsDir)

	man, err := mgr.Create(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dbPath, []byte("corrupted-live-state"), 0o644))

	require.NoError(t, mgr.Restore(man.File))
	raw, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(raw))
}

func TestRestore_RejectsTamperedBackupFile(t *testing.T) {
	dbPath := newTestDB(t, "original")
	backupsDir := t.TempDir()
	mgr := backup.NewManager(dbPath, backupsDir)

	man, err := mgr.Create(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(backupsDir, man.File), []byte("tampered"), 0o644))

	err = mgr.Restore(man.File)
	assert.ErrorIs(t, err, backup.ErrIntegrityMismatch)

	raw, readErr := os.ReadFile(dbPath)
	require.NoError(t, readErr)
	assert.Equal(t, "original", string(raw), "no swap must occur on integrity mismatch")
}
