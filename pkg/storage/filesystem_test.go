package storage

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndOpen(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := files.Save("agenda/alice/job-1.csv", []byte("Date,Summary\n"))
	require.NoError(t, err)
	require.Equal(t, "agenda/alice/job-1.csv", name)

	file, err := files.Open(name)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "Date,Summary\n", string(data))
}

func TestLocalStorageRejectsEscapingNames(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "/etc/passwd", "../outside.csv", "agenda/../../outside.csv"} {
		_, err := files.Save(name, []byte("x"))
		assert.Error(t, err, name)
		_, err = files.Open(name)
		assert.Error(t, err, name)
		assert.Empty(t, files.Path(name), name)
	}
}

func TestLocalStoragePathStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	files, err := NewLocalStorage(root)
	require.NoError(t, err)

	path := files.Path("agenda/alice/job-1.csv")
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(root, "agenda", "alice", "job-1.csv"), path)
}
