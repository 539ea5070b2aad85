package collection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResource_IdentifierOf(t *testing.T) {
	res := Resource{Name: "tokens", IDFields: []string{"tokenId", "id", "contractAddress"}}

	tests := []struct {
		name   string
		body   string
		wantID Identifier
		wantOK bool
	}{
		{name: "first candidate", body: `{"tokenId":"t1","id":"x"}`, wantID: "t1", wantOK: true},
		{name: "null falls through", body: `{"tokenId":null,"id":5}`, wantID: "5", wantOK: true},
		{name: "empty string falls through", body: `{"tokenId":"","contractAddress":"0xc"}`, wantID: "0xc", wantOK: true},
		{name: "zero is present", body: `{"tokenId":0}`, wantID: "0", wantOK: true},
		{name: "false is present", body: `{"id":false}`, wantID: "false", wantOK: true},
		{name: "no candidates", body: `{"name":"foo"}`, wantOK: false},
		{name: "all empty", body: `{"tokenId":"","id":null}`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec Record
			require.NoError(t, json.Unmarshal([]byte(tt.body), &rec))

			id, ok := res.IdentifierOf(rec)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestResource_Prefix(t *testing.T) {
	assert.Equal(t, "tx", Resource{Name: "transactions", FilePrefix: "tx"}.Prefix())
	assert.Equal(t, "transactions", Resource{Name: "transactions"}.Prefix())
}

func TestDefaultResources(t *testing.T) {
	byName := make(map[string]Resource)
	for _, r := range DefaultResources() {
		byName[r.Name] = r
	}

	require.Len(t, byName, 5)
	assert.Equal(t, "limit", byName["transactions"].SizeParam)
	assert.Equal(t, "count", byName["tokens"].SizeParam)
	assert.Equal(t, "blocks", byName["mblocks"].FallbackRowsField)
	assert.Equal(t, []string{"proofId", "id"}, byName["pblocks"].IDFields)
	assert.Equal(t, []string{"unionId", "id"}, byName["unions"].IDFields)
}

func TestIDSet(t *testing.T) {
	s := NewIDSet("a")
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.Equal(t, 2, s.Len())

	res := Resource{IDFields: []string{"id"}}
	s.AddRecords(res, []Record{NewRecord("id", 3), NewRecord("name", "no id")})
	assert.True(t, s.Contains("3"))
	assert.Equal(t, 3, s.Len())
}
