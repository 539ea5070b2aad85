package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("collector")

	m.IncPagesFetched("transactions")
	m.IncPagesFetched("transactions")
	m.IncFetchRetries("transactions")
	m.AddRecordsAccepted("transactions", "first", 40)
	m.AddRecordsSkipped("transactions", 3)
	m.IncScanOutcome("transactions", "first", "terminated")
	m.ObservePageFetch("transactions", 20*time.Millisecond)
	m.SetCorpusRecords("transactions", 41)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PagesFetched.WithLabelValues("transactions")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchRetries.WithLabelValues("transactions")))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.RecordsAccepted.WithLabelValues("transactions", "first")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RecordsSkipped.WithLabelValues("transactions")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScanOutcomes.WithLabelValues("transactions", "first", "terminated")))
	assert.Equal(t, float64(41), testutil.ToFloat64(m.CorpusRecords.WithLabelValues("transactions")))
}

func TestMetrics_TrackCollection(t *testing.T) {
	m := New("collector")
	boom := errors.New("boom")

	err := m.TrackCollection("mblocks", func() error {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveCollections.WithLabelValues("mblocks")))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveCollections.WithLabelValues("mblocks")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CollectionTime))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	a, b := New("collector"), New("collector")
	a.IncPagesFetched("x")

	assert.Equal(t, float64(0), testutil.ToFloat64(b.PagesFetched.WithLabelValues("x")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("collector")
	m.IncPagesFetched("tokens")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `collector_pages_fetched_total{resource="tokens"} 1`)
}
