package collection

import (
	"context"
	"time"
)

// Checkpoint records the page at which a first pass over a resource should
// resume.
type Checkpoint struct {
	Resource  string
	Page      int
	UpdatedAt time.Time
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(resource string, page int) *Checkpoint {
	return &Checkpoint{Resource: resource, Page: page, UpdatedAt: time.Now()}
}

// CheckpointRepository persists scan progress per resource. Load returns
// (nil, nil) when no checkpoint exists.
type CheckpointRepository interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, resource string) (*Checkpoint, error)
	Delete(ctx context.Context, resource string) error
}
