package os_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	hlsos "github.com/hlsnet/hls-core/libs/os"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	// Should be possible to create a new directory.
	err := hlsos.EnsureDir(filepath.Join(tmp, "dir"), 0o755)
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(tmp, "dir"))

	// Should succeed on existing directory.
	err = hlsos.EnsureDir(filepath.Join(tmp, "dir"), 0o755)
	require.NoError(t, err)

	// Should fail on file.
	err = os.WriteFile(filepath.Join(tmp, "file"), []byte{}, 0o644)
	require.NoError(t, err)
	err = hlsos.EnsureDir(filepath.Join(tmp, "file"), 0o755)
	require.Error(t, err)
}

func TestFileExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.toml")
	require.False(t, hlsos.FileExists(path))

	hlsos.MustWriteFile(path, []byte("x = 1\n"), 0o644)
	require.True(t, hlsos.FileExists(path))
	require.Equal(t, []byte("x = 1\n"), hlsos.MustReadFile(path))
}
