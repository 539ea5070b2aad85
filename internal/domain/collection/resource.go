// Package collection holds the domain model for collecting paginated list
// resources from a remote explorer API: resource descriptors, records and
// their identifiers, scan results, checkpoints and the ports the
// application layer depends on.
package collection

import (
	"encoding/json"
	"time"
)

// Resource describes one paginated remote list and how to persist it.
type Resource struct {
	// Name is the stable key for the resource (e.g. "transactions").
	Name string
	// Endpoint is the URL path relative to the API base.
	Endpoint string
	// PageParam and SizeParam are the query parameter names for the page
	// number and page size.
	PageParam string
	SizeParam string
	PageSize  int
	// RowsField names the array within the response object that holds the
	// page's records. FallbackRowsField is consulted when RowsField is
	// absent or empty.
	RowsField         string
	FallbackRowsField string
	// IDFields lists the candidate identifier fields in priority order.
	IDFields []string
	// PageDelay is the fixed pause between successful page fetches.
	PageDelay time.Duration
	// FilePrefix prefixes corpus and checkpoint names.
	FilePrefix string
}

// Prefix returns the corpus/checkpoint name prefix, defaulting to Name.
func (r Resource) Prefix() string {
	if r.FilePrefix != "" {
		return r.FilePrefix
	}
	return r.Name
}

// IdentifierOf returns the record's identifier: the first candidate field
// whose value is neither null nor an empty string. Zero and false count as
// present values. ok is false when no candidate field is present.
func (r Resource) IdentifierOf(rec Record) (Identifier, bool) {
	for _, field := range r.IDFields {
		v, found := rec.Get(field)
		if !found || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		if raw, isRaw := v.(json.RawMessage); isRaw && string(raw) == "null" {
			continue
		}
		return Identifier(valueText(v)), true
	}
	return "", false
}

// DefaultPageSize is used when a resource does not configure one.
const DefaultPageSize = 100

// DefaultResources returns the descriptors for the explorer lists the
// collector knows about out of the box.
func DefaultResources() []Resource {
	return []Resource{
		{
			Name:       "transactions",
			Endpoint:   "/v1/tx",
			PageParam:  "page",
			SizeParam:  "limit",
			PageSize:   DefaultPageSize,
			RowsField:  "rows",
			IDFields:   []string{"txId"},
			PageDelay:  100 * time.Millisecond,
			FilePrefix: "xphere_transactions",
		},
		{
			Name:              "mblocks",
			Endpoint:          "/v1/block",
			PageParam:         "page",
			SizeParam:         "limit",
			PageSize:          DefaultPageSize,
			RowsField:         "rows",
			FallbackRowsField: "blocks",
			IDFields:          []string{"number"},
			PageDelay:         20 * time.Millisecond,
			FilePrefix:        "xphere_mblocks",
		},
		{
			Name:              "pblocks",
			Endpoint:          "/v1/proof",
			PageParam:         "page",
			SizeParam:         "limit",
			PageSize:          DefaultPageSize,
			RowsField:         "rows",
			FallbackRowsField: "proofs",
			IDFields:          []string{"proofId", "id"},
			PageDelay:         20 * time.Millisecond,
			FilePrefix:        "xphere_pblocks",
		},
		{
			Name:              "tokens",
			Endpoint:          "/v1/token",
			PageParam:         "page",
			SizeParam:         "count",
			PageSize:          DefaultPageSize,
			RowsField:         "rows",
			FallbackRowsField: "tokens",
			IDFields:          []string{"tokenId", "id", "contractAddress"},
			PageDelay:         100 * time.Millisecond,
			FilePrefix:        "xphere_tokens",
		},
		{
			Name:              "unions",
			Endpoint:          "/v1/unions",
			PageParam:         "page",
			SizeParam:         "count",
			PageSize:          DefaultPageSize,
			RowsField:         "rows",
			FallbackRowsField: "unions",
			IDFields:          []string{"unionId", "id"},
			PageDelay:         100 * time.Millisecond,
			FilePrefix:        "xphere_unions",
		},
	}
}
