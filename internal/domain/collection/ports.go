package collection

import (
	"context"
	"time"
)

// PageFetcher retrieves one page of a resource. An empty (or null) row
// array signals end of data. Failures are reported as *FetchError so the
// caller can tell transient failures from malformed responses.
type PageFetcher interface {
	FetchPage(ctx context.Context, res Resource, page int) ([]Record, error)
}

// CorpusRef points at one persisted corpus of a resource, such as a
// timestamped CSV file or a named set of rows in a database.
type CorpusRef struct {
	Resource  string
	Name      string
	CreatedAt time.Time
}

// CorpusStore persists collected records. A corpus comes into existence on
// the first Append with a non-empty batch; the first batch written to a new
// corpus defines its field layout.
type CorpusStore interface {
	// NewRef names a fresh corpus for res created at the given time. Nothing
	// is persisted until the first Append.
	NewRef(res Resource, at time.Time) CorpusRef
	// Latest returns the newest existing corpus for res, or nil when none.
	Latest(ctx context.Context, res Resource) (*CorpusRef, error)
	// Append persists records to ref.
	Append(ctx context.Context, ref CorpusRef, pass Pass, records []Record) error
	// ReadIDs returns the identifiers persisted in ref and the number of
	// records it holds.
	ReadIDs(ctx context.Context, res Resource, ref CorpusRef) (IDSet, int, error)
	// ReadRecords loads every record of ref.
	ReadRecords(ctx context.Context, ref CorpusRef) ([]Record, error)
}
