// Package config holds the collector's configuration model, its defaults
// and the loader that merges file, environment and flag values.
package config

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

// CorpusBackend enumerates where collected records are persisted.
type CorpusBackend string

const (
	CorpusCSV      CorpusBackend = "csv"
	CorpusPostgres CorpusBackend = "postgres"
)

// CheckpointBackend enumerates where resume checkpoints are persisted.
type CheckpointBackend string

const (
	CheckpointFile     CheckpointBackend = "file"
	CheckpointMemory   CheckpointBackend = "memory"
	CheckpointPostgres CheckpointBackend = "postgres"
)

// Config represents the top-level configuration.
type Config struct {
	OutputDir      string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
	AppendToLatest bool   `mapstructure:"append_to_latest" yaml:"append_to_latest"`
	SkipIfFresh    bool   `mapstructure:"skip_if_fresh" yaml:"skip_if_fresh"`

	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	Resources []ResourceConfig `mapstructure:"resources" yaml:"resources" validate:"required,min=1,dive"`
}

// APIConfig configures the explorer HTTP client.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
}

// RetryConfig bounds how a transiently failing page is retried.
type RetryConfig struct {
	// MaxAttempts is the total number of fetch attempts per page.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration `mapstructure:"backoff" yaml:"backoff" validate:"min=0"`
}

// StorageConfig selects the persistence back-ends.
type StorageConfig struct {
	Corpus     CorpusBackend     `mapstructure:"corpus" yaml:"corpus" validate:"oneof=csv postgres"`
	Checkpoint CheckpointBackend `mapstructure:"checkpoint" yaml:"checkpoint" validate:"oneof=file memory postgres"`
}

// PostgresConfig configures the optional Postgres back-ends.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns" validate:"min=0"`
}

// KafkaConfig configures the optional domain event publisher. Events are
// dropped when no broker is configured.
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers" yaml:"brokers,omitempty" validate:"omitempty,dive,hostname_port"`
	Topic    string        `mapstructure:"topic" yaml:"topic" validate:"required_with=Brokers"`
	ClientID string        `mapstructure:"client_id" yaml:"client_id"`
	Connect  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"min=0"`
}

// Enabled reports whether a broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" validate:"required"`
}

// TelemetryConfig configures OpenTelemetry export. An empty Endpoint
// disables export.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name" validate:"required"`
	Probability float64 `mapstructure:"probability" yaml:"probability" validate:"min=0,max=1"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// ResourceConfig describes one paginated explorer resource.
type ResourceConfig struct {
	Name              string        `mapstructure:"name" yaml:"name" validate:"required"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint" validate:"required"`
	PageParam         string        `mapstructure:"page_param" yaml:"page_param" validate:"required"`
	SizeParam         string        `mapstructure:"size_param" yaml:"size_param" validate:"required"`
	PageSize          int           `mapstructure:"page_size" yaml:"page_size" validate:"min=1"`
	RowsField         string        `mapstructure:"rows_field" yaml:"rows_field" validate:"required"`
	FallbackRowsField string        `mapstructure:"fallback_rows_field" yaml:"fallback_rows_field,omitempty"`
	IDFields          []string      `mapstructure:"id_fields" yaml:"id_fields" validate:"required,min=1,dive,required"`
	PageDelay         time.Duration `mapstructure:"page_delay" yaml:"page_delay" validate:"min=0"`
	FilePrefix        string        `mapstructure:"file_prefix" yaml:"file_prefix,omitempty"`
}

// Resource converts the descriptor into its domain form.
func (r ResourceConfig) Resource() collection.Resource {
	return collection.Resource{
		Name:              r.Name,
		Endpoint:          r.Endpoint,
		PageParam:         r.PageParam,
		SizeParam:         r.SizeParam,
		PageSize:          r.PageSize,
		RowsField:         r.RowsField,
		FallbackRowsField: r.FallbackRowsField,
		IDFields:          append([]string(nil), r.IDFields...),
		PageDelay:         r.PageDelay,
		FilePrefix:        r.FilePrefix,
	}
}

// FromResource converts a domain descriptor into its configuration form.
func FromResource(r collection.Resource) ResourceConfig {
	return ResourceConfig{
		Name:              r.Name,
		Endpoint:          r.Endpoint,
		PageParam:         r.PageParam,
		SizeParam:         r.SizeParam,
		PageSize:          r.PageSize,
		RowsField:         r.RowsField,
		FallbackRowsField: r.FallbackRowsField,
		IDFields:          append([]string(nil), r.IDFields...),
		PageDelay:         r.PageDelay,
		FilePrefix:        r.FilePrefix,
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	defaults := collection.DefaultResources()
	resources := make([]ResourceConfig, 0, len(defaults))
	for _, r := range defaults {
		resources = append(resources, FromResource(r))
	}

	return Config{
		OutputDir: "data",
		API: APIConfig{
			BaseURL: "https://xp.tamsa.io/xphere/api",
			Timeout: 15 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 30,
			Backoff:     time.Minute,
		},
		Storage: StorageConfig{
			Corpus:     CorpusCSV,
			Checkpoint: CheckpointFile,
		},
		Postgres: PostgresConfig{MaxConns: 4},
		Kafka: KafkaConfig{
			Topic:    "xphere-collection-events",
			ClientID: "xphere-collector",
			Connect:  time.Minute,
		},
		Metrics: MetricsConfig{Namespace: "collector"},
		Telemetry: TelemetryConfig{
			ServiceName: "xphere-collector",
			Probability: 1,
		},
		Log:       LogConfig{Level: "info"},
		Resources: resources,
	}
}

// DomainResources returns every configured resource in its domain form.
func (c *Config) DomainResources() []collection.Resource {
	out := make([]collection.Resource, 0, len(c.Resources))
	for _, r := range c.Resources {
		out = append(out, r.Resource())
	}
	return out
}

// Resource looks up a configured resource by name.
func (c *Config) Resource(name string) (collection.Resource, error) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r.Resource(), nil
		}
	}
	return collection.Resource{}, fmt.Errorf("%w: %q", collection.ErrUnknownResource, name)
}

// Select resolves names to resources, keeping their order. No names
// selects every configured resource.
func (c *Config) Select(names []string) ([]collection.Resource, error) {
	if len(names) == 0 {
		return c.DomainResources(), nil
	}
	out := make([]collection.Resource, 0, len(names))
	for _, n := range names {
		r, err := c.Resource(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Write renders the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
