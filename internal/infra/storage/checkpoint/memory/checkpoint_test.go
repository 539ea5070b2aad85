package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

func TestCheckpointStore_SaveAndLoad(t *testing.T) {
	store := NewCheckpointStore()
	ctx := context.Background()

	err := store.Save(ctx, collection.NewCheckpoint("transactions", 42))
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "transactions")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "transactions", loaded.Resource)
	assert.Equal(t, 42, loaded.Page)
	assert.False(t, loaded.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestCheckpointStore_LoadNonExistent(t *testing.T) {
	store := NewCheckpointStore()

	loaded, err := store.Load(context.Background(), "non-existent")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCheckpointStore_SaveOverwrites(t *testing.T) {
	store := NewCheckpointStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, collection.NewCheckpoint("mblocks", 3)))
	require.NoError(t, store.Save(ctx, collection.NewCheckpoint("mblocks", 9)))

	loaded, err := store.Load(ctx, "mblocks")
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Page)
}

func TestCheckpointStore_LoadReturnsCopy(t *testing.T) {
	store := NewCheckpointStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, collection.NewCheckpoint("tokens", 5)))

	loaded, err := store.Load(ctx, "tokens")
	require.NoError(t, err)
	loaded.Page = 100

	again, err := store.Load(ctx, "tokens")
	require.NoError(t, err)
	assert.Equal(t, 5, again.Page)
}

func TestCheckpointStore_Delete(t *testing.T) {
	store := NewCheckpointStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, collection.NewCheckpoint("unions", 2)))

	require.NoError(t, store.Delete(ctx, "unions"))
	require.NoError(t, store.Delete(ctx, "unions"), "deleting a missing checkpoint is not an error")

	loaded, err := store.Load(ctx, "unions")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
