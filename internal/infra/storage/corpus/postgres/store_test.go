package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
)

var txResource = collection.Resource{
	Name:       "transactions",
	IDFields:   []string{"txId"},
	FilePrefix: "xphere_transactions",
}

func setupStoreTest(t *testing.T) (context.Context, *Store, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewStore(db, []collection.Resource{txResource}, storage.NoOpTracer())
	return context.Background(), store, cleanup
}

func TestPGStore_AppendAndRead(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupStoreTest(t)
	defer cleanup()

	ref := store.NewRef(txResource, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "xphere_transactions_20240501_120000", ref.Name)

	require.NoError(t, store.Append(ctx, ref, collection.PassFirst, []collection.Record{
		collection.NewRecord("txId", "a", "amount", "1000000000000000000", "zeta", 1),
		collection.NewRecord("txId", "b", "amount", "2"),
	}))
	require.NoError(t, store.Append(ctx, ref, collection.PassSecond, []collection.Record{
		collection.NewRecord("amount", "3"),
	}))

	latest, err := store.Latest(ctx, txResource)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ref.Name, latest.Name)

	ids, count, err := store.ReadIDs(ctx, txResource, ref)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, collection.NewIDSet("a", "b"), ids)

	records, err := store.ReadRecords(ctx, ref)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"txId", "amount", "zeta"}, records[0].Fields())
	assert.Equal(t, "1000000000000000000", records[0].Text("amount"))
	assert.Equal(t, "1", records[0].Text("zeta"))
}

func TestPGStore_LatestNone(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupStoreTest(t)
	defer cleanup()

	latest, err := store.Latest(ctx, txResource)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestDecodeRecord_RestoresFieldOrder(t *testing.T) {
	payload, err := json.Marshal(collection.NewRecord("b", 1, "a", "x"))
	require.NoError(t, err)

	// jsonb hands keys back sorted.
	rec, err := decodeRecord([]string{"b", "a"}, []byte(`{"a":"x","b":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, rec.Fields())

	again, err := decodeRecord([]string{"b", "a"}, payload)
	require.NoError(t, err)
	assert.Equal(t, rec.Text("b"), again.Text("b"))
}
