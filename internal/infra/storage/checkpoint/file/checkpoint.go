// Package file stores checkpoints as one small text file per resource
// holding the page number to resume from.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
)

// Suffix is appended to the resource prefix to form the checkpoint name.
const Suffix = "_resume.txt"

var _ collection.CheckpointRepository = (*CheckpointStore)(nil)

// CheckpointStore keeps checkpoints in dir as <prefix>_resume.txt.
type CheckpointStore struct {
	dir      string
	prefixes map[string]string
	tracer   trace.Tracer
}

// NewCheckpointStore creates a store rooted at dir. Resources map names to
// file prefixes; unknown resources use their name as prefix.
func NewCheckpointStore(dir string, resources []collection.Resource, tracer trace.Tracer) *CheckpointStore {
	prefixes := make(map[string]string, len(resources))
	for _, r := range resources {
		prefixes[r.Name] = r.Prefix()
	}
	return &CheckpointStore{dir: dir, prefixes: prefixes, tracer: tracer}
}

// Path returns the checkpoint file for resource.
func (s *CheckpointStore) Path(resource string) string {
	prefix, ok := s.prefixes[resource]
	if !ok {
		prefix = resource
	}
	return filepath.Join(s.dir, prefix+Suffix)
}

// Save overwrites the checkpoint file with the page number. The write goes
// through a temporary file and a rename so readers never see partial content.
func (s *CheckpointStore) Save(ctx context.Context, cp *collection.Checkpoint) error {
	path := s.Path(cp.Resource)
	attrs := []attribute.KeyValue{
		attribute.String("resource", cp.Resource),
		attribute.Int("page", cp.Page),
		attribute.String("path", path),
	}
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.save_checkpoint", attrs, func(ctx context.Context) error {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint dir: %w", err)
		}

		tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
		if err != nil {
			return fmt.Errorf("failed to create temp checkpoint: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.WriteString(strconv.Itoa(cp.Page)); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to close checkpoint: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return fmt.Errorf("failed to replace checkpoint: %w", err)
		}
		return nil
	})
}

// Load returns the checkpoint for resource, or nil when the file is absent.
func (s *CheckpointStore) Load(ctx context.Context, resource string) (*collection.Checkpoint, error) {
	path := s.Path(resource)
	attrs := []attribute.KeyValue{
		attribute.String("resource", resource),
		attribute.String("path", path),
	}

	var cp *collection.Checkpoint
	err := storage.ExecuteAndTrace(ctx, s.tracer, "file.load_checkpoint", attrs, func(ctx context.Context) error {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}

		page, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || page < 1 {
			return fmt.Errorf("checkpoint %s holds %q, want a positive page number", path, strings.TrimSpace(string(data)))
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat checkpoint: %w", err)
		}
		cp = &collection.Checkpoint{Resource: resource, Page: page, UpdatedAt: info.ModTime()}
		return nil
	})
	return cp, err
}

// Delete removes the checkpoint file. A missing file is not an error.
func (s *CheckpointStore) Delete(ctx context.Context, resource string) error {
	path := s.Path(resource)
	attrs := []attribute.KeyValue{
		attribute.String("resource", resource),
		attribute.String("path", path),
	}
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.delete_checkpoint", attrs, func(ctx context.Context) error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		return nil
	})
}
