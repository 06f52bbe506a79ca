package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteFileThenReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, WriteFile(path, []byte("hello"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteJSONThenReadJSON_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	in := payload{Name: "firmware", Count: 3}
	require.NoError(t, WriteJSON(path, in, 0o644))

	var out payload
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestReadJSON_MissingFileReturnsOSError(t *testing.T) {
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &payload{})
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSON_OverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteJSON(path, payload{Name: "first"}, 0o644))
	require.NoError(t, WriteJSON(path, payload{Name: "second"}, 0o644))

	var out payload
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, "second", out.Name)
}
