package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"argus/core"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ARGUS_ENGINE_WORKERS
const EnvPrefix = "ARGUS"

// Queue policies accepted in dataset configuration
const (
	PolicyLossy    = "lossy"
	PolicyBlocking = "blocking"
)

// Correlation backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for an argus process
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Datasets    DatasetsConfig    `mapstructure:"datasets"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EngineConfig configures rule evaluation and the detector worker pool
type EngineConfig struct {
	Workers      int           `mapstructure:"workers" validate:"min=1,max=1024"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"min=0,max=100"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"min=0"`
	EventBuffer  int           `mapstructure:"event_buffer" validate:"min=1"`
	// Language selects the i18n text used for alert titles
	Language       string        `mapstructure:"language" validate:"required"`
	RegexTimeout   time.Duration `mapstructure:"regex_timeout" validate:"min=1ms,max=1m"`
	RegexMaxLength int           `mapstructure:"regex_max_length" validate:"min=1,max=10000"`
}

// DatasetsConfig lists the dataset kinds to serve and where their contents
// come from
type DatasetsConfig struct {
	QueueSize int             `mapstructure:"queue_size" validate:"min=1"`
	MaxBatch  int             `mapstructure:"max_batch" validate:"min=1"`
	Kinds     []DatasetConfig `mapstructure:"kinds" validate:"dive"`
	Sources   []SourceConfig  `mapstructure:"sources" validate:"dive"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
}

// DatasetConfig overrides queue settings of one kind, written "type" or
// "type:name"
type DatasetConfig struct {
	Kind      string        `mapstructure:"kind" validate:"required"`
	QueueSize int           `mapstructure:"queue_size" validate:"min=0"`
	Policy    string        `mapstructure:"policy" validate:"omitempty,oneof=lossy blocking"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// SourceConfig is one feed source
type SourceConfig struct {
	Kind       string            `mapstructure:"kind" validate:"required"`
	Path       string            `mapstructure:"path"`
	URL        string            `mapstructure:"url" validate:"omitempty,url"`
	Headers    map[string]string `mapstructure:"headers"`
	Delimiter  string            `mapstructure:"delimiter"`
	SkipHeader bool              `mapstructure:"skip_header"`
	Schedule   string            `mapstructure:"schedule"`
}

// FeedsConfig bounds feed downloads and scheduled refreshes
type FeedsConfig struct {
	HTTPTimeout        time.Duration `mapstructure:"http_timeout" validate:"min=0"`
	LoadTimeout        time.Duration `mapstructure:"load_timeout" validate:"min=0"`
	MaxConcurrentLoads int           `mapstructure:"max_concurrent_loads" validate:"min=1"`
}

// CorrelationConfig selects and tunes the correlation store
type CorrelationConfig struct {
	Backend          string        `mapstructure:"backend" validate:"oneof=memory redis"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout" validate:"min=0"`
	MaxKeysPerFamily int           `mapstructure:"max_keys_per_family" validate:"min=1"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" validate:"min=0"`
	Redis            RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the Redis correlation backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	PoolSize int    `mapstructure:"pool_size" validate:"min=1"`
	Prefix   string `mapstructure:"prefix"`
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown
	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" validate:"gt=0"`
}

// RulesConfig points at rule directories
type RulesConfig struct {
	NativeDir string      `mapstructure:"native_dir"`
	SigmaDir  string      `mapstructure:"sigma_dir"`
	Sigma     SigmaConfig `mapstructure:"sigma"`
}

// SigmaConfig tunes SIGMA translation
type SigmaConfig struct {
	// FieldMap renames SIGMA field names to event field paths
	FieldMap        map[string]string `mapstructure:"field_map"`
	KeywordField    string            `mapstructure:"keyword_field"`
	CaseInsensitive bool              `mapstructure:"case_insensitive"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_backoff", 10*time.Millisecond)
	v.SetDefault("engine.event_buffer", 1000)
	v.SetDefault("engine.language", "EN")
	v.SetDefault("engine.regex_timeout", 100*time.Millisecond)
	v.SetDefault("engine.regex_max_length", 1000)

	v.SetDefault("datasets.queue_size", 1024)
	v.SetDefault("datasets.max_batch", 256)
	v.SetDefault("datasets.feeds.http_timeout", 60*time.Second)
	v.SetDefault("datasets.feeds.load_timeout", 5*time.Minute)
	v.SetDefault("datasets.feeds.max_concurrent_loads", 3)

	v.SetDefault("correlation.backend", BackendMemory)
	v.SetDefault("correlation.lock_timeout", 50*time.Millisecond)
	v.SetDefault("correlation.max_keys_per_family", 100_000)
	v.SetDefault("correlation.sweep_interval", time.Minute)
	v.SetDefault("correlation.redis.addr", "localhost:6379")
	v.SetDefault("correlation.redis.db", 0)
	v.SetDefault("correlation.redis.pool_size", 10)
	v.SetDefault("correlation.redis.prefix", "argus:corr")
	v.SetDefault("correlation.redis.breaker_failures", 5)
	v.SetDefault("correlation.redis.breaker_cooldown", 30*time.Second)

	v.SetDefault("rules.native_dir", "")
	v.SetDefault("rules.sigma_dir", "")
	v.SetDefault("rules.sigma.keyword_field", "message")
	v.SetDefault("rules.sigma.case_insensitive", false)

	v.SetDefault("logging.level", "info")
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads path (YAML or JSON), applies ARGUS_* environment
// overrides and defaults, and validates the result. With an empty path,
// argus.yaml is looked up in . and ./config; a missing file is not an error
// in that case.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("argus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return flatten(err)
	}

	if _, err := core.ParseLanguage(cfg.Engine.Language); err != nil {
		return fmt.Errorf("engine.language: %w", err)
	}

	seen := make(map[core.DatasetKind]bool, len(cfg.Datasets.Kinds))
	for i, d := range cfg.Datasets.Kinds {
		kind, err := core.ParseDatasetKind(d.Kind)
		if err != nil {
			return fmt.Errorf("datasets.kinds[%d]: %w", i, err)
		}
		if seen[kind] {
			return fmt.Errorf("datasets.kinds[%d]: %s is listed twice", i, kind)
		}
		seen[kind] = true
		if d.Policy == PolicyBlocking && d.Timeout <= 0 {
			return fmt.Errorf("datasets.kinds[%d]: blocking policy needs a positive timeout", i)
		}
	}

	for i, s := range cfg.Datasets.Sources {
		kind, err := core.ParseDatasetKind(s.Kind)
		if err != nil {
			return fmt.Errorf("datasets.sources[%d]: %w", i, err)
		}
		if kind.Type == core.DatasetRuleCatalog {
			return fmt.Errorf("datasets.sources[%d]: rules are loaded from rules.native_dir and rules.sigma_dir", i)
		}
		if (s.Path == "") == (s.URL == "") {
			return fmt.Errorf("datasets.sources[%d]: exactly one of path and url is required", i)
		}
		if utf8.RuneCountInString(s.Delimiter) > 1 {
			return fmt.Errorf("datasets.sources[%d]: delimiter must be a single character", i)
		}
	}

	if cfg.Correlation.Backend == BackendRedis && cfg.Correlation.Redis.Addr == "" {
		return fmt.Errorf("correlation.redis.addr is required for the redis backend")
	}
	return nil
}

// flatten turns validator errors into one readable error keyed by the
// mapstructure path
func flatten(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldPath maps "Config.Engine.RegexTimeout" to "engine.regextimeout"
func fieldPath(namespace string) string {
	namespace = strings.TrimPrefix(namespace, "Config.")
	return strings.ToLower(namespace)
}

// Delim returns the source delimiter as a rune, zero when unset
func (s SourceConfig) Delim() rune {
	r, _ := utf8.DecodeRuneInString(s.Delimiter)
	if r == utf8.RuneError {
		return 0
	}
	return r
}
