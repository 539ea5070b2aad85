package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureAnalysis() Analysis {
	records := fixtureRecords()
	txs, _ := ParseTransactions(records)
	return Analyze("xphere_transactions_20240504_090000.csv", len(records), txs,
		time.Date(2024, 5, 4, 9, 0, 0, 0, time.UTC))
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, fixtureAnalysis()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "xphere_transactions_20240504_090000.csv")
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "<polyline")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "2024-05-02", "gap days are listed")
	assert.Contains(t, out, `<td class="wallet">w1</td>`)
	assert.Contains(t, out, "Unique wallets: 4")
}

func TestRenderHTML_EscapesValues(t *testing.T) {
	a := fixtureAnalysis()
	a.TopMethods = []WalletRank{{Key: "<script>alert(1)</script>", Count: 1}}

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, a))
	assert.NotContains(t, buf.String(), "<script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestRenderHTML_NoTimestamps(t *testing.T) {
	a := fixtureAnalysis()
	a.Daily = nil

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, a))
	assert.NotContains(t, buf.String(), "<svg")
	assert.Contains(t, buf.String(), "No transaction carried a usable timestamp.")
}

func TestBuildChart(t *testing.T) {
	assert.Nil(t, BuildChart(nil))

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	single := BuildChart([]DailyPoint{{Day: day, Volume: decimal.NewFromInt(10), Count: 4}})
	require.NotNil(t, single)
	assert.Equal(t, "450.0,24.0", single.VolumePoints, "a single day is centered and peaks at the top")
	assert.Equal(t, 4, single.MaxCount)
	require.Len(t, single.Labels, 1)
	assert.Equal(t, "05-01", single.Labels[0].Text)

	var series []DailyPoint
	for i := 0; i < 20; i++ {
		series = append(series, DailyPoint{Day: day.AddDate(0, 0, i)})
	}
	flat := BuildChart(series)
	require.NotNil(t, flat)
	assert.True(t, strings.HasPrefix(flat.VolumePoints, "48.0,272.0"), "an all-zero series sits on the axis")
	assert.LessOrEqual(t, len(flat.Labels), maxXLabels)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, fixtureAnalysis())
	out := buf.String()

	assert.Contains(t, out, "Top senders by count")
	assert.Contains(t, out, "Top methods")
	assert.Contains(t, out, "transfer")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "8.5000")
}

func TestGroupThousands(t *testing.T) {
	tests := map[string]string{
		"0":              "0",
		"999":            "999",
		"1000":           "1,000",
		"1234567.5000":   "1,234,567.5000",
		"-1000000":       "-1,000,000",
		"123456789.0001": "123,456,789.0001",
	}
	for in, want := range tests {
		assert.Equal(t, want, groupThousands(in), in)
	}
}
