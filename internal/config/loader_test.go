package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewViperLoader("").Load(context.Background())
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.OutputDir, cfg.OutputDir)
	assert.Equal(t, 30, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Retry.Backoff)
	assert.Equal(t, CorpusCSV, cfg.Storage.Corpus)
	assert.Equal(t, CheckpointFile, cfg.Storage.Checkpoint)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, collection.DefaultResources(), cfg.DomainResources())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
output_dir: /var/lib/collector
append_to_latest: true
api:
  timeout: 5s
retry:
  max_attempts: 3
  backoff: 2s
kafka:
  brokers: ["localhost:9092"]
resources:
  - name: transactions
    endpoint: /v1/tx
    size_param: limit
    rows_field: rows
    id_fields: [txId]
    page_delay: 250ms
`)

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/collector", cfg.OutputDir)
	assert.True(t, cfg.AppendToLatest)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "https://xp.tamsa.io/xphere/api", cfg.API.BaseURL, "unset keys keep their defaults")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Backoff)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "xphere-collection-events", cfg.Kafka.Topic)

	require.Len(t, cfg.Resources, 1, "resources from the file replace the defaults")
	r := cfg.Resources[0]
	assert.Equal(t, "page", r.PageParam)
	assert.Equal(t, collection.DefaultPageSize, r.PageSize)
	assert.Equal(t, 250*time.Millisecond, r.PageDelay)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "retry:\n  max_attempts: 3\n")

	setEnv(t, map[string]string{
		"COLLECTOR_RETRY_MAX_ATTEMPTS": "7",
		"COLLECTOR_STORAGE_CHECKPOINT": "memory",
		"COLLECTOR_KAFKA_BROKERS":      "a:9092,b:9092",
	})

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, CheckpointMemory, cfg.Storage.Checkpoint)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	fs := pflag.NewFlagSet("collect", pflag.ContinueOnError)
	fs.String("output-dir", "ignored-default", "")
	fs.Bool("append", false, "")
	require.NoError(t, fs.Parse([]string{"--output-dir", "/tmp/out"}))

	setEnv(t, map[string]string{"COLLECTOR_OUTPUT_DIR": "/from/env"})

	cfg, err := NewViperLoader("",
		WithFlag("output_dir", fs.Lookup("output-dir")),
		WithFlag("append_to_latest", fs.Lookup("append")),
	).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.False(t, cfg.AppendToLatest)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "zero attempts", body: "retry:\n  max_attempts: 0\n"},
		{name: "unknown corpus backend", body: "storage:\n  corpus: sqlite\n"},
		{name: "postgres without dsn", body: "storage:\n  checkpoint: postgres\n"},
		{name: "bad broker address", env: map[string]string{"COLLECTOR_KAFKA_BROKERS": "not a broker"}},
		{name: "bad log level", env: map[string]string{"COLLECTOR_LOG_LEVEL": "loud"}},
		{
			name: "duplicate resource",
			body: `
resources:
  - {name: tx, endpoint: /v1/tx, size_param: limit, rows_field: rows, id_fields: [txId]}
  - {name: tx, endpoint: /v1/tx, size_param: limit, rows_field: rows, id_fields: [txId]}
`,
		},
		{
			name: "resource without id fields",
			body: "resources:\n  - {name: tx, endpoint: /v1/tx, size_param: limit, rows_field: rows}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.body != "" {
				path = writeFile(t, tt.body)
			}
			setEnv(t, tt.env)
			_, err := NewViperLoader(path).Load(context.Background())
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	assert.Error(t, err)
}

func TestValidate_PostgresWithDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage.Corpus = CorpusPostgres
	cfg.Postgres.DSN = "postgres://collector@localhost/collector"
	assert.NoError(t, Validate(&cfg))
}

func TestConfig_Select(t *testing.T) {
	cfg := Default()

	all, err := cfg.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, len(cfg.Resources))

	picked, err := cfg.Select([]string{"tokens", "transactions"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "tokens", picked[0].Name)
	assert.Equal(t, "transactions", picked[1].Name)

	_, err = cfg.Select([]string{"transactions", "nfts"})
	assert.ErrorIs(t, err, collection.ErrUnknownResource)
}

func TestConfig_WriteIsLoadable(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "/srv/collector"

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	assert.Contains(t, buf.String(), "output_dir: /srv/collector")

	loaded, err := NewViperLoader(writeFile(t, buf.String())).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.OutputDir, loaded.OutputDir)
	assert.Equal(t, cfg.DomainResources(), loaded.DomainResources())
}
