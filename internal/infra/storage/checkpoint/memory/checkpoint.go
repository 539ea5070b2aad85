package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

var _ collection.CheckpointRepository = (*CheckpointStore)(nil)

// CheckpointStore provides a thread-safe in-memory implementation of
// collection.CheckpointRepository for testing and single-run use.
type CheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]collection.Checkpoint
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]collection.Checkpoint)}
}

func (cs *CheckpointStore) Save(ctx context.Context, cp *collection.Checkpoint) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cp.UpdatedAt = time.Now()
	cs.checkpoints[cp.Resource] = *cp
	return nil
}

// Load returns a copy so callers can't mutate the stored checkpoint.
func (cs *CheckpointStore) Load(ctx context.Context, resource string) (*collection.Checkpoint, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cp, ok := cs.checkpoints[resource]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (cs *CheckpointStore) Delete(ctx context.Context, resource string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.checkpoints, resource)
	return nil
}
