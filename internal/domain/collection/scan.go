package collection

import (
	"context"
	"fmt"
)

// Pass identifies which pass of a collection a scan belongs to.
type Pass int

const (
	// PassFirst collects every row, duplicates included.
	PassFirst Pass = 1
	// PassSecond collects only rows missing from the seed.
	PassSecond Pass = 2
)

// String returns the metric/log label of the pass.
func (p Pass) String() string {
	switch p {
	case PassFirst:
		return "first"
	case PassSecond:
		return "second"
	default:
		return fmt.Sprintf("pass(%d)", int(p))
	}
}

// ScanResult is the outcome of one pass over a resource.
type ScanResult struct {
	// Records holds every accepted record in the order received.
	Records []Record
	// Terminated is true only when the remote signalled end of data.
	Terminated bool
	// LastPage is the page at which the scan stopped: the empty page on
	// success, or the page that could not be fetched.
	LastPage int
	// Err explains an unsuccessful scan. It is nil when Terminated is true.
	Err error
}

// Count returns the number of accepted records.
func (r ScanResult) Count() int { return len(r.Records) }

// PageHandler receives each page's accepted records as soon as it is
// collected. A returned error aborts the scan.
type PageHandler func(ctx context.Context, page int, records []Record) error

// ScanOptions tune a single scan.
type ScanOptions struct {
	// StartPage is the first page requested; values below 1 mean 1.
	StartPage int
	// OnPage, when set, is invoked for every page that produced records.
	OnPage PageHandler
	// Checkpoint enables writing the stuck page to the checkpoint store on
	// failures.
	Checkpoint bool
}
