// Package postgres persists collected records in PostgreSQL, one row per
// record with the JSON payload and the record's field order.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
)

// TimestampLayout formats the creation time embedded in corpus names.
const TimestampLayout = "20060102_150405"

var _ collection.CorpusStore = (*Store)(nil)

// Store is a collection.CorpusStore backed by the collected_records table.
type Store struct {
	pool      *pgxpool.Pool
	resources map[string]collection.Resource
	tracer    trace.Tracer
}

// NewStore creates a Store. resources supply the identifier fields used to
// index records as they are appended.
func NewStore(pool *pgxpool.Pool, resources []collection.Resource, tracer trace.Tracer) *Store {
	byName := make(map[string]collection.Resource, len(resources))
	for _, r := range resources {
		byName[r.Name] = r
	}
	return &Store{pool: pool, resources: byName, tracer: tracer}
}

// NewRef names a fresh corpus. Nothing is written until the first Append.
func (s *Store) NewRef(res collection.Resource, at time.Time) collection.CorpusRef {
	return collection.CorpusRef{
		Resource:  res.Name,
		Name:      fmt.Sprintf("%s_%s", res.Prefix(), at.UTC().Format(TimestampLayout)),
		CreatedAt: at,
	}
}

const latestCorpus = `
SELECT corpus, created_at FROM collection_corpora
WHERE resource = $1
ORDER BY corpus DESC
LIMIT 1`

// Latest returns the corpus with the greatest name for res.
func (s *Store) Latest(ctx context.Context, res collection.Resource) (*collection.CorpusRef, error) {
	var ref *collection.CorpusRef
	dbAttrs := storage.Attributes(attribute.String("resource", res.Name))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.latest_corpus", dbAttrs, func(ctx context.Context) error {
		r := collection.CorpusRef{Resource: res.Name}
		if err := s.pool.QueryRow(ctx, latestCorpus, res.Name).Scan(&r.Name, &r.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to query latest corpus: %w", err)
		}
		ref = &r
		return nil
	})
	return ref, err
}

const registerCorpus = `
INSERT INTO collection_corpora (resource, corpus, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (resource, corpus) DO NOTHING`

// Append inserts records with COPY inside a transaction that also
// registers the corpus on its first write.
func (s *Store) Append(ctx context.Context, ref collection.CorpusRef, pass collection.Pass, records []collection.Record) error {
	if len(records) == 0 {
		return nil
	}

	dbAttrs := storage.Attributes(
		attribute.String("resource", ref.Resource),
		attribute.String("corpus", ref.Name),
		attribute.Int("pass", int(pass)),
		attribute.Int("records", len(records)),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.append_records", dbAttrs, func(ctx context.Context) error {
		res := s.resources[ref.Resource]

		rows := make([][]any, 0, len(records))
		for _, rec := range records {
			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal record: %w", err)
			}
			var recordID *string
			if id, ok := res.IdentifierOf(rec); ok {
				v := string(id)
				recordID = &v
			}
			rows = append(rows, []any{ref.Resource, ref.Name, recordID, int16(pass), rec.Fields(), payload})
		}

		created := ref.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}

		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, registerCorpus, ref.Resource, ref.Name, created); err != nil {
				return fmt.Errorf("failed to register corpus: %w", err)
			}
			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"collected_records"},
				[]string{"resource", "corpus", "record_id", "pass", "fields", "payload"},
				pgx.CopyFromRows(rows),
			)
			if err != nil {
				return fmt.Errorf("failed to copy records: %w", err)
			}
			return nil
		})
	})
}

const corpusIDs = `
SELECT record_id FROM collected_records
WHERE resource = $1 AND corpus = $2`

// ReadIDs returns the identifiers stored in ref and its row count.
func (s *Store) ReadIDs(ctx context.Context, res collection.Resource, ref collection.CorpusRef) (collection.IDSet, int, error) {
	ids := collection.NewIDSet()
	count := 0
	dbAttrs := storage.Attributes(attribute.String("resource", res.Name), attribute.String("corpus", ref.Name))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.read_ids", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, corpusIDs, res.Name, ref.Name)
		if err != nil {
			return fmt.Errorf("failed to query ids: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id *string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan id: %w", err)
			}
			count++
			if id != nil && *id != "" {
				ids.Add(collection.Identifier(*id))
			}
		}
		return rows.Err()
	})
	return ids, count, err
}

const corpusRecords = `
SELECT fields, payload FROM collected_records
WHERE resource = $1 AND corpus = $2
ORDER BY id`

// ReadRecords loads every record of ref in insertion order.
func (s *Store) ReadRecords(ctx context.Context, ref collection.CorpusRef) ([]collection.Record, error) {
	var out []collection.Record
	dbAttrs := storage.Attributes(attribute.String("resource", ref.Resource), attribute.String("corpus", ref.Name))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.read_records", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, corpusRecords, ref.Resource, ref.Name)
		if err != nil {
			return fmt.Errorf("failed to query records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				fields  []string
				payload []byte
			)
			if err := rows.Scan(&fields, &payload); err != nil {
				return fmt.Errorf("failed to scan record: %w", err)
			}
			rec, err := decodeRecord(fields, payload)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// decodeRecord restores the original field order, which jsonb drops.
func decodeRecord(fields []string, payload []byte) (collection.Record, error) {
	var decoded collection.Record
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return collection.Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	var rec collection.Record
	for _, f := range fields {
		v, _ := decoded.Get(f)
		rec.Set(f, v)
	}
	return rec, nil
}
