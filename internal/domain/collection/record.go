package collection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one row returned by a remote resource list. It is an opaque,
// ordered mapping of field name to value: the collector never interprets
// fields beyond the identifier, but it keeps the remote's key order so the
// first batch written defines a stable column order.
//
// Values are one of: nil, string, bool, json.Number (number literals kept
// verbatim so large integers such as wei amounts survive), or json.RawMessage
// for nested objects and arrays.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a Record from alternating key/value arguments. Go integer
// and float values are stored as json.Number. It is mostly useful in tests
// and when rehydrating records from storage.
func NewRecord(kv ...any) Record {
	r := Record{values: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		r.Set(key, normalizeValue(kv[i+1]))
	}
	return r
}

// RecordFromColumns rebuilds a Record from a persisted tabular row. Every
// value is kept as a string; empty cells become absent values.
func RecordFromColumns(header, row []string) Record {
	r := Record{values: make(map[string]any, len(header))}
	for i, col := range header {
		if i >= len(row) {
			break
		}
		if row[i] == "" {
			r.Set(col, nil)
			continue
		}
		r.Set(col, row[i])
	}
	return r
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case int:
		return json.Number(strconv.Itoa(val))
	case int64:
		return json.Number(strconv.FormatInt(val, 10))
	case float64:
		return json.Number(strconv.FormatFloat(val, 'f', -1, 64))
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return json.RawMessage(b)
	default:
		return val
	}
}

// Set assigns a field, appending it to the key order when new.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the raw value for key and whether the key is present.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Fields returns the field names in the order the remote returned them.
func (r Record) Fields() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.keys) }

// Text renders the value of key as flat text suitable for a tabular cell.
// Absent and null values render as the empty string.
func (r Record) Text(key string) string {
	v, ok := r.values[key]
	if !ok {
		return ""
	}
	return valueText(v)
}

func valueText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, val); err != nil {
			return string(val)
		}
		return buf.String()
	default:
		return fmt.Sprint(val)
	}
}

// UnmarshalJSON decodes a JSON object while preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}

	*r = Record{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected record key token %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding field %q: %w", key, err)
		}
		val, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("decoding field %q: %w", key, err)
		}
		r.Set(key, val)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case 'n':
		return nil, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, err
		}
		return b, nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return s, nil
	case '{', '[':
		out := make(json.RawMessage, len(trimmed))
		copy(out, trimmed)
		return out, nil
	default:
		return json.Number(string(trimmed)), nil
	}
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
