package backup

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, keep int) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "hearth.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite payload"), 0o644))

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(dbPath, filepath.Join(dir, "backups"), "", keep, log), dbPath
}

func TestCreateAndList(t *testing.T) {
	svc, _ := testService(t, 5)

	info, err := svc.Create()
	require.NoError(t, err)
	assert.Contains(t, info.Name, ".db.gz")
	assert.Greater(t, info.SizeBytes, int64(0))

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, info.Name, backups[0].Name)

	// Snapshot must decompress back to the original database bytes.
	f, err := os.Open(filepath.Join(svc.dir, info.Name))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "sqlite payload", string(data))
}

func TestRetentionPrunesOldest(t *testing.T) {
	svc, _ := testService(t, 2)

	for i := 0; i < 3; i++ {
		_, err := svc.Create()
		require.NoError(t, err)
		// Distinct timestamps for ordering and file names.
		time.Sleep(1100 * time.Millisecond)
	}

	backups, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRestore(t *testing.T) {
	svc, dbPath := testService(t, 5)

	info, err := svc.Create()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dbPath, []byte("corrupted"), 0o644))
	require.NoError(t, svc.Restore(info.Name))

	data, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "sqlite payload", string(data))
}

func TestRestoreRejectsPathTraversal(t *testing.T) {
	svc, _ := testService(t, 5)
	assert.Error(t, svc.Restore("../evil.db.gz"))
	assert.Error(t, svc.Restore("dir/evil.db.gz"))
}

func TestListEmptyDir(t *testing.T) {
	svc, _ := testService(t, 5)
	backups, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, backups)
}
