package files

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "private.pem")

	require.NoError(t, WriteAtomic(path, []byte("first"), 0600))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"b": 2, "a": 1}, 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}\n", string(data))
}

func TestWriteJSONAtomic_EncodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	err := WriteJSONAtomic(path, map[string]interface{}{"ch": make(chan int)}, 0644)
	require.Error(t, err)
	assert.False(t, Exists(path))
}

func TestReadIfExists(t *testing.T) {
	dir := t.TempDir()

	data, ok, err := ReadIfExists(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	path := filepath.Join(dir, "present.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))
	data, ok, err = ReadIfExists(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(data))
}
