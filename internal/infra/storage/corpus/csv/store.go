// Package csv persists collected records as timestamped CSV files, one per
// collection run, named <prefix>_YYYYMMDD_HHMMSS.csv.
package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
)

// TimestampLayout formats the creation time embedded in corpus names.
const TimestampLayout = "20060102_150405"

var bom = []byte{0xEF, 0xBB, 0xBF}

var corpusName = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})\.csv$`)

var _ collection.CorpusStore = (*Store)(nil)

// Store keeps corpora as CSV files in a directory. Files start with a UTF-8
// BOM and a header line written once, from the fields of the first batch.
type Store struct {
	dir    string
	tracer trace.Tracer

	mu      sync.Mutex
	headers map[string][]string // path -> header
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, tracer trace.Tracer) *Store {
	return &Store{dir: dir, tracer: tracer, headers: make(map[string][]string)}
}

// Path returns the file backing ref.
func (s *Store) Path(ref collection.CorpusRef) string { return filepath.Join(s.dir, ref.Name) }

// NewRef names a fresh corpus file. No file is created until the first Append.
func (s *Store) NewRef(res collection.Resource, at time.Time) collection.CorpusRef {
	return collection.CorpusRef{
		Resource:  res.Name,
		Name:      fmt.Sprintf("%s_%s.csv", res.Prefix(), at.Format(TimestampLayout)),
		CreatedAt: at,
	}
}

// Latest returns the corpus with the lexicographically greatest name for
// the resource prefix, which is also the newest one.
func (s *Store) Latest(ctx context.Context, res collection.Resource) (*collection.CorpusRef, error) {
	var latest *collection.CorpusRef
	attrs := []attribute.KeyValue{attribute.String("resource", res.Name), attribute.String("dir", s.dir)}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "csv.latest_corpus", attrs, func(ctx context.Context) error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to list corpus dir: %w", err)
		}

		var names []string
		stamps := make(map[string]string)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			m := corpusName.FindStringSubmatch(e.Name())
			if m == nil || m[1] != res.Prefix() {
				continue
			}
			names = append(names, e.Name())
			stamps[e.Name()] = m[2]
		}
		if len(names) == 0 {
			return nil
		}
		sort.Strings(names)
		name := names[len(names)-1]

		created, err := time.ParseInLocation(TimestampLayout, stamps[name], time.Local)
		if err != nil {
			return fmt.Errorf("failed to parse corpus timestamp of %s: %w", name, err)
		}
		latest = &collection.CorpusRef{Resource: res.Name, Name: name, CreatedAt: created}
		return nil
	})
	return latest, err
}

// Append writes records to the corpus file. A missing or empty file is
// created with a BOM and a header made of the batch's fields in first-seen
// order. Existing files keep their header: fields missing from a record are
// written empty, fields not in the header are dropped.
func (s *Store) Append(ctx context.Context, ref collection.CorpusRef, _ collection.Pass, records []collection.Record) error {
	if len(records) == 0 {
		return nil
	}

	path := s.Path(ref)
	attrs := []attribute.KeyValue{
		attribute.String("resource", ref.Resource),
		attribute.String("path", path),
		attribute.Int("records", len(records)),
	}
	return storage.ExecuteAndTrace(ctx, s.tracer, "csv.append_records", attrs, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		header, err := s.ensureHeader(path, records)
		if err != nil {
			return err
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open corpus: %w", err)
		}
		defer f.Close()

		bufw := bufio.NewWriterSize(f, 1<<16)
		w := csv.NewWriter(bufw)
		row := make([]string, len(header))
		for _, rec := range records {
			for i, col := range header {
				row[i] = rec.Text(col)
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("failed to flush rows: %w", err)
		}
		if err := bufw.Flush(); err != nil {
			return fmt.Errorf("failed to flush corpus: %w", err)
		}
		return f.Sync()
	})
}

// ensureHeader returns the header of path, creating the file with a header
// derived from records when it is missing or empty. Callers hold s.mu.
func (s *Store) ensureHeader(path string, records []collection.Record) ([]string, error) {
	if h, ok := s.headers[path]; ok {
		return h, nil
	}

	fi, err := os.Stat(path)
	if err == nil && fi.Size() > 0 {
		h, err := readHeader(path)
		if err != nil {
			return nil, err
		}
		s.headers[path] = h
		return h, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat corpus: %w", err)
	}

	header := FieldUnion(records)
	if err := writeHeader(path, header); err != nil {
		return nil, err
	}
	s.headers[path] = header
	return header, nil
}

// FieldUnion returns every field of records in first-appearance order.
func FieldUnion(records []collection.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range records {
		for _, f := range rec.Fields() {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func writeHeader(path string, header []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create corpus dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create corpus: %w", err)
	}
	// Write UTF-8 BOM for spreadsheet friendliness.
	if _, err := f.Write(bom); err != nil {
		f.Close()
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// openReader opens path for reading positioned after the BOM, if any.
func openReader(path string) (*csv.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReader(f)
	if first3, _ := br.Peek(3); len(first3) == 3 && first3[0] == bom[0] && first3[1] == bom[1] && first3[2] == bom[2] {
		_, _ = br.Discard(3)
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	return r, f, nil
}

func readHeader(path string) ([]string, error) {
	r, c, err := openReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer c.Close()

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus header: %w", err)
	}
	return header, nil
}

// each calls fn for every data row of ref.
func (s *Store) each(ref collection.CorpusRef, fn func(collection.Record)) error {
	r, c, err := openReader(s.Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", collection.ErrCorpusNotFound, ref.Name)
		}
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	defer c.Close()

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to read corpus header: %w", err)
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read corpus row: %w", err)
		}
		fn(collection.RecordFromColumns(header, row))
	}
}

// ReadIDs returns the identifiers stored in ref and its row count.
func (s *Store) ReadIDs(ctx context.Context, res collection.Resource, ref collection.CorpusRef) (collection.IDSet, int, error) {
	ids := collection.NewIDSet()
	count := 0
	attrs := []attribute.KeyValue{attribute.String("resource", res.Name), attribute.String("corpus", ref.Name)}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "csv.read_ids", attrs, func(ctx context.Context) error {
		return s.each(ref, func(rec collection.Record) {
			count++
			if id, ok := res.IdentifierOf(rec); ok {
				ids.Add(id)
			}
		})
	})
	return ids, count, err
}

// ReadRecords loads every row of ref. Values come back as strings.
func (s *Store) ReadRecords(ctx context.Context, ref collection.CorpusRef) ([]collection.Record, error) {
	var out []collection.Record
	attrs := []attribute.KeyValue{attribute.String("corpus", ref.Name)}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "csv.read_records", attrs, func(ctx context.Context) error {
		return s.each(ref, func(rec collection.Record) { out = append(out, rec) })
	})
	return out, err
}
