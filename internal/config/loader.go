package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

// EnvPrefix prefixes every environment override, e.g. COLLECTOR_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "COLLECTOR"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

var _ Loader = (*ViperLoader)(nil)

// ViperLoader merges, from lowest to highest precedence: defaults, a YAML
// file, COLLECTOR_* environment variables and bound command-line flags.
type ViperLoader struct {
	path  string
	flags map[string]*pflag.Flag
}

// LoaderOption customizes a ViperLoader.
type LoaderOption func(*ViperLoader)

// WithFlag binds a command-line flag to a configuration key. The flag only
// overrides the key when it was set explicitly.
func WithFlag(key string, flag *pflag.Flag) LoaderOption {
	return func(l *ViperLoader) {
		if flag != nil {
			l.flags[key] = flag
		}
	}
}

// NewViperLoader creates a loader reading path. An empty path skips the file.
func NewViperLoader(path string, opts ...LoaderOption) *ViperLoader {
	l := &ViperLoader{path: path, flags: make(map[string]*pflag.Flag)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, merges and validates the configuration.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	def := Default()
	for key, val := range defaultKeys(def) {
		v.SetDefault(key, val)
	}

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	cfg := def
	// Resources from the file replace the defaults entirely.
	if v.IsSet("resources") {
		cfg.Resources = nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.Resources {
		if cfg.Resources[i].PageSize == 0 {
			cfg.Resources[i].PageSize = collection.DefaultPageSize
		}
		if cfg.Resources[i].PageParam == "" {
			cfg.Resources[i].PageParam = "page"
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultKeys flattens the scalar settings of cfg into viper keys. Every key
// listed here can be overridden from the environment.
func defaultKeys(cfg Config) map[string]any {
	return map[string]any{
		"output_dir":             cfg.OutputDir,
		"append_to_latest":       cfg.AppendToLatest,
		"skip_if_fresh":          cfg.SkipIfFresh,
		"api.base_url":           cfg.API.BaseURL,
		"api.timeout":            cfg.API.Timeout,
		"api.user_agent":         cfg.API.UserAgent,
		"retry.max_attempts":     cfg.Retry.MaxAttempts,
		"retry.backoff":          cfg.Retry.Backoff,
		"storage.corpus":         string(cfg.Storage.Corpus),
		"storage.checkpoint":     string(cfg.Storage.Checkpoint),
		"postgres.dsn":           cfg.Postgres.DSN,
		"postgres.max_conns":     cfg.Postgres.MaxConns,
		"kafka.brokers":          cfg.Kafka.Brokers,
		"kafka.topic":            cfg.Kafka.Topic,
		"kafka.client_id":        cfg.Kafka.ClientID,
		"kafka.connect_timeout":  cfg.Kafka.Connect,
		"metrics.addr":           cfg.Metrics.Addr,
		"metrics.namespace":      cfg.Metrics.Namespace,
		"telemetry.endpoint":     cfg.Telemetry.Endpoint,
		"telemetry.service_name": cfg.Telemetry.ServiceName,
		"telemetry.probability":  cfg.Telemetry.Probability,
		"log.level":              cfg.Log.Level,
	}
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules spanning several sections.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	usesPostgres := cfg.Storage.Corpus == CorpusPostgres || cfg.Storage.Checkpoint == CheckpointPostgres
	if usesPostgres && cfg.Postgres.DSN == "" {
		return fmt.Errorf("%w: postgres.dsn is required for the postgres storage back-ends", ErrInvalid)
	}

	seen := make(map[string]struct{}, len(cfg.Resources))
	for _, r := range cfg.Resources {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: resource %q is defined twice", ErrInvalid, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}
