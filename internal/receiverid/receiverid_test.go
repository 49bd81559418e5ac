package receiverid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver.uuid")

	id1, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", id1.String())

	id2, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestLoadOrCreateRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver.uuid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-uuid"), 0o644))

	_, err := LoadOrCreate(path)
	require.Error(t, err)
}
