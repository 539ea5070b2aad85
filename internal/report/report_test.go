package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
	csvcorpus "github.com/ahrav/xphere-collector/internal/infra/storage/corpus/csv"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
)

var txResource = collection.Resource{
	Name:       "transactions",
	IDFields:   []string{"txId"},
	FilePrefix: "xphere_transactions",
}

func TestGenerator_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := csvcorpus.NewStore(dir, storage.NoOpTracer())

	ref := store.NewRef(txResource, time.Date(2024, 5, 4, 9, 0, 0, 0, time.Local))
	require.NoError(t, store.Append(ctx, ref, collection.PassFirst, fixtureRecords()))

	gen := NewGenerator(store, logger.Noop(), storage.NoOpTracer())
	gen.now = func() time.Time { return time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC) }

	var summary bytes.Buffer
	path, err := gen.Run(ctx, txResource, filepath.Join(dir, "reports"), &summary)
	require.NoError(t, err)

	assert.Equal(t, "Transaction_Analysis_Report_20240504_100000.html", filepath.Base(path))
	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), ref.Name)
	assert.True(t, strings.Contains(summary.String(), "Top senders by count"))
}

func TestGenerator_AnalyzeReadsNewestCorpus(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := csvcorpus.NewStore(dir, storage.NoOpTracer())

	older := store.NewRef(txResource, time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local))
	require.NoError(t, store.Append(ctx, older, collection.PassFirst, fixtureRecords()[:1]))
	newer := store.NewRef(txResource, time.Date(2024, 5, 2, 9, 0, 0, 0, time.Local))
	require.NoError(t, store.Append(ctx, newer, collection.PassFirst, fixtureRecords()))

	a, err := NewGenerator(store, logger.Noop(), storage.NoOpTracer()).Analyze(ctx, txResource)
	require.NoError(t, err)
	assert.Equal(t, newer.Name, a.Corpus)
	assert.Equal(t, 6, a.Records)
	assert.Equal(t, 4, a.Valid)
}

func TestGenerator_NoCorpus(t *testing.T) {
	store := csvcorpus.NewStore(t.TempDir(), storage.NoOpTracer())

	_, err := NewGenerator(store, logger.Noop(), storage.NoOpTracer()).Analyze(context.Background(), txResource)
	assert.ErrorIs(t, err, collection.ErrCorpusNotFound)
}
