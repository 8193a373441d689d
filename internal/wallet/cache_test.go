package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache(t *testing.T) {
	c := FileCache{Path: filepath.Join(t.TempDir(), "wallet.json")}

	got, err := c.Load()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.Store("GABC"))
	got, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "GABC", got)

	require.NoError(t, c.Store("GDEF"))
	got, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "GDEF", got)

	require.NoError(t, c.Clear())
	require.NoError(t, c.Clear())
	got, err = c.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileCache_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := FileCache{Path: path}.Load()
	assert.Error(t, err)
}
