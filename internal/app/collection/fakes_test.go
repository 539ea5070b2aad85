package collection

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/domain/events"
	"github.com/ahrav/xphere-collector/internal/infra/storage/checkpoint/memory"
)

var testResource = collection.Resource{
	Name:       "transactions",
	Endpoint:   "/v1/tx",
	PageParam:  "page",
	SizeParam:  "limit",
	PageSize:   2,
	RowsField:  "rows",
	IDFields:   []string{"id"},
	FilePrefix: "tx",
}

// snapshot maps page number to rows; pages past the last one are empty.
type snapshot [][]collection.Record

func recs(ids ...int) []collection.Record {
	out := make([]collection.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, collection.NewRecord("id", id, "value", fmt.Sprintf("v%d", id)))
	}
	return out
}

func idsOf(records []collection.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Text("id"))
	}
	return out
}

// fakeFetcher serves snapshots page by page. After serving an empty page it
// moves to the next snapshot, so a second pass sees the updated endpoint.
type fakeFetcher struct {
	mu        sync.Mutex
	snapshots []snapshot
	current   int

	// failures holds errors to return, in order, before a page succeeds.
	failures map[int][]error
	// always makes a page fail every time with the given error.
	always map[int]error

	calls []int
}

func newFakeFetcher(snaps ...snapshot) *fakeFetcher {
	return &fakeFetcher{
		snapshots: snaps,
		failures:  make(map[int][]error),
		always:    make(map[int]error),
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, _ collection.Resource, page int) ([]collection.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, page)
	if err := ctx.Err(); err != nil {
		return nil, collection.NewTransientError("transactions", page, 0, err)
	}
	if err, ok := f.always[page]; ok {
		return nil, err
	}
	if q := f.failures[page]; len(q) > 0 {
		f.failures[page] = q[1:]
		return nil, q[0]
	}

	snap := f.snapshots[f.current]
	if page-1 < len(snap) && len(snap[page-1]) > 0 {
		return snap[page-1], nil
	}
	if f.current < len(f.snapshots)-1 {
		f.current++
	}
	return nil, nil
}

func (f *fakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	copy(out, f.calls)
	return out
}

func transient(page int) error {
	return collection.NewTransientError("transactions", page, 503, fmt.Errorf("service unavailable"))
}

func malformed(page int) error {
	return collection.NewMalformedError("transactions", page, fmt.Errorf("response has no \"rows\" field"))
}

// recordingCheckpoints remembers every saved page on top of an in-memory store.
type recordingCheckpoints struct {
	*memory.CheckpointStore
	mu    sync.Mutex
	saves []int
}

func newRecordingCheckpoints() *recordingCheckpoints {
	return &recordingCheckpoints{CheckpointStore: memory.NewCheckpointStore()}
}

func (r *recordingCheckpoints) Save(ctx context.Context, cp *collection.Checkpoint) error {
	r.mu.Lock()
	r.saves = append(r.saves, cp.Page)
	r.mu.Unlock()
	return r.CheckpointStore.Save(ctx, cp)
}

func (r *recordingCheckpoints) Saves() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.saves...)
}

// recordingPublisher keeps published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}
