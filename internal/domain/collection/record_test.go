package collection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_UnmarshalPreservesOrderAndNumbers(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"txId":"0xabc","amount":1000000000000000000000,"block":12,"meta":{"a": 1, "b":[1, 2]},"ok":true,"memo":null}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"txId", "amount", "block", "meta", "ok", "memo"}, rec.Fields())
	assert.Equal(t, "1000000000000000000000", rec.Text("amount"))
	assert.Equal(t, "12", rec.Text("block"))
	assert.Equal(t, `{"a":1,"b":[1,2]}`, rec.Text("meta"))
	assert.Equal(t, "true", rec.Text("ok"))
	assert.Equal(t, "", rec.Text("memo"))
	assert.Equal(t, "", rec.Text("missing"))

	v, ok := rec.Get("memo")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestRecord_UnmarshalRejectsNonObject(t *testing.T) {
	var rec Record
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &rec))
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &rec))
}

func TestRecord_MarshalKeepsFieldOrder(t *testing.T) {
	rec := NewRecord("z", 1, "a", "two", "m", nil)

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"two","m":null}`, string(b))
}

func TestRecord_SetOverwritesWithoutReordering(t *testing.T) {
	rec := NewRecord("a", 1, "b", 2)
	rec.Set("a", "x")

	assert.Equal(t, []string{"a", "b"}, rec.Fields())
	assert.Equal(t, "x", rec.Text("a"))
	assert.Equal(t, 2, rec.Len())
}

func TestRecordFromColumns(t *testing.T) {
	rec := RecordFromColumns([]string{"id", "name", "extra"}, []string{"7", "", "y"})

	assert.Equal(t, []string{"id", "name", "extra"}, rec.Fields())
	assert.Equal(t, "7", rec.Text("id"))
	v, ok := rec.Get("name")
	assert.True(t, ok)
	assert.Nil(t, v)
}
