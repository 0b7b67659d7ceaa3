package reliability

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/database"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = data
	}
	return entries
}

func TestBuildArchiveWithManifest(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "analytics.db", "analytics-bytes")
	b := writeTempFile(t, dir, "cache.db", "cache-bytes")

	archive := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, buildArchive(archive, []string{a, b}))

	entries := readArchive(t, archive)
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("analytics-bytes"), entries["analytics.db"])
	assert.Equal(t, []byte("cache-bytes"), entries["cache.db"])

	// The manifest must carry the sha256 of every archived file
	manifest := string(entries["checksums.txt"])
	for name, content := range map[string]string{
		"analytics.db": "analytics-bytes",
		"cache.db":     "cache-bytes",
	} {
		sum := sha256.Sum256([]byte(content))
		assert.Contains(t, manifest, fmt.Sprintf("%x  %s", sum, name))
	}
}

func TestCopyDatabasesProducesVerifiedCopies(t *testing.T) {
	dir := t.TempDir()

	db, err := database.New(database.Config{
		Path: filepath.Join(dir, "analytics.db"),
		Name: "analytics",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (v) VALUES ('a'), ('b')`)
	require.NoError(t, err)

	svc := &Service{
		databases: map[string]*database.DB{"analytics": db},
		log:       zerolog.Nop(),
	}

	workDir := t.TempDir()
	copies, err := svc.copyDatabases(workDir)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.True(t, strings.HasSuffix(copies[0], "analytics.db"))

	// The copy stands alone and holds the data
	require.NoError(t, verifyCopy(copies[0]))
	copyDB, err := database.New(database.Config{Path: copies[0], Name: "copy"})
	require.NoError(t, err)
	defer copyDB.Close()

	var n int
	require.NoError(t, copyDB.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestObjectKeyLayout(t *testing.T) {
	svc := &Service{}
	svc.cfg.Prefix = "/spyglass/prod/"
	assert.Equal(t, "spyglass/prod/", svc.keyPrefix())

	svc.cfg.Prefix = ""
	assert.Equal(t, "backups/", svc.keyPrefix())
}
