package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
)

func setupFileStore(t *testing.T) (*CheckpointStore, string) {
	t.Helper()

	dir := t.TempDir()
	resources := []collection.Resource{{Name: "transactions", FilePrefix: "xphere_transactions"}}
	return NewCheckpointStore(dir, resources, storage.NoOpTracer()), dir
}

func TestCheckpointStore_SaveWritesSingleInteger(t *testing.T) {
	store, dir := setupFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, collection.NewCheckpoint("transactions", 17)))

	data, err := os.ReadFile(filepath.Join(dir, "xphere_transactions_resume.txt"))
	require.NoError(t, err)
	assert.Equal(t, "17", string(data))

	loaded, err := store.Load(ctx, "transactions")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 17, loaded.Page)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestCheckpointStore_UnknownResourceUsesName(t *testing.T) {
	store, dir := setupFileStore(t)

	require.NoError(t, store.Save(context.Background(), collection.NewCheckpoint("pblocks", 2)))
	assert.FileExists(t, filepath.Join(dir, "pblocks_resume.txt"))
}

func TestCheckpointStore_LoadMissing(t *testing.T) {
	store, _ := setupFileStore(t)

	loaded, err := store.Load(context.Background(), "transactions")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCheckpointStore_LoadTolerantOfWhitespace(t *testing.T) {
	store, dir := setupFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xphere_transactions_resume.txt"), []byte(" 8\n"), 0o644))

	loaded, err := store.Load(context.Background(), "transactions")
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Page)
}

func TestCheckpointStore_LoadRejectsGarbage(t *testing.T) {
	store, dir := setupFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xphere_transactions_resume.txt"), []byte("page five"), 0o644))

	_, err := store.Load(context.Background(), "transactions")
	assert.Error(t, err)
}

func TestCheckpointStore_Delete(t *testing.T) {
	store, dir := setupFileStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, collection.NewCheckpoint("transactions", 3)))

	require.NoError(t, store.Delete(ctx, "transactions"))
	assert.NoFileExists(t, filepath.Join(dir, "xphere_transactions_resume.txt"))
	require.NoError(t, store.Delete(ctx, "transactions"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}
