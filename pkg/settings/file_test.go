package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, found, err := store.Get(ctx, "servers/a/hostname")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "servers/a/hostname", []byte("dvr.example.com")))

	value, found, err := store.Get(ctx, "servers/a/hostname")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dvr.example.com", string(value))

	require.NoError(t, store.Delete(ctx, "servers/a/hostname"))

	_, found, err = store.Get(ctx, "servers/a/hostname")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "servers/a/port", []byte("7001")))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	value, found, err := reopened.Get(ctx, "servers/a/port")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "7001", string(value))
}

func TestFileStoreDeleteMissingKeyIsNoop(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), "servers/ghost/hostname"))
}

func TestFileStoreWatchUnsupported(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	_, err = store.Watch(context.Background(), "servers/index")
	require.True(t, errors.Is(err, ErrWatchUnsupported))
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileStore(path)
	require.Error(t, err)
}

func TestIndexRoundTrip(t *testing.T) {
	ctx := context.Background()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	ids, err := Index(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, SaveIndex(ctx, store, []string{"alpha", "beta"}))

	ids, err = Index(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}
