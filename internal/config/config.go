// Copyright 2025 James Ross

// Package config implements the layered configuration loader: an
// ordered list of Source values merged right-biased into one map, then
// decoded and validated into a typed Config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flyingrobots/djed/internal/validate"
)

// Redis holds connection settings shared by the queue's and cache's
// Redis backends.
type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// HTTPClient configures the default retry policy and breaker thresholds
// used by internal/httpclient when a call site does not override them.
type HTTPClient struct {
	WebhookURL              string        `mapstructure:"webhook_url"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	RetryAttempts           int           `mapstructure:"retry_attempts"`
	RetryBackoffType        string        `mapstructure:"retry_backoff_type"`
	RetryBaseDelay          time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay           time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter             time.Duration `mapstructure:"retry_jitter"`
	BreakerFailureThreshold float64       `mapstructure:"breaker_failure_threshold"`
	BreakerWindow           time.Duration `mapstructure:"breaker_window"`
	BreakerCooldownPeriod   time.Duration `mapstructure:"breaker_cooldown_period"`
	BreakerMinSamples       int           `mapstructure:"breaker_min_samples"`
}

// Cache configures internal/cache's default backend and TTL behavior.
type Cache struct {
	Backend    string        `mapstructure:"backend"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Namespace  string        `mapstructure:"namespace"`
	FileDir    string        `mapstructure:"file_dir"`
}

// Queue configures internal/queue's default backend, concurrency, and
// retry/backoff behavior.
type Queue struct {
	Name            string        `mapstructure:"name"`
	Backend         string        `mapstructure:"backend"`
	Concurrency     int           `mapstructure:"concurrency"`
	DefaultAttempts int           `mapstructure:"default_attempts"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	BackoffType     string        `mapstructure:"backoff_type"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	DLQGrace        time.Duration `mapstructure:"dlq_grace"`
}

// TracingConfig mirrors the teacher's OpenTelemetry wiring.
type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

// Observability configures logging, metrics, and tracing.
type Observability struct {
	LogLevel    string        `mapstructure:"log_level"`
	MetricsPort int           `mapstructure:"metrics_port"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Config is the fully decoded, validated configuration for all four
// runtime components.
type Config struct {
	Redis         Redis         `mapstructure:"redis"`
	HTTPClient    HTTPClient    `mapstructure:"http_client"`
	Cache         Cache         `mapstructure:"cache"`
	Queue         Queue         `mapstructure:"queue"`
	Observability Observability `mapstructure:"observability"`
}

// SourcedFieldError augments a validate.FieldError with the name of the
// Source (e.g. "file:///etc/djed.yaml", "env://DJED", "literal") that
// contributed the offending key's value, so a caller can tell which
// layer to fix.
type SourcedFieldError struct {
	validate.FieldError
	Source string
}

func (e SourcedFieldError) Error() string {
	if e.Source == "" {
		return e.FieldError.Error()
	}
	return fmt.Sprintf("%s: %s (%s) [source=%s]", e.Path, e.Message, e.Code, e.Source)
}

// ConfigError wraps the accumulated validation failures for a Config,
// each attributed to the specific Source that supplied the offending
// key.
type ConfigError struct {
	Errors []SourcedFieldError
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("config: %s", strings.Join(msgs, "; "))
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		HTTPClient: HTTPClient{
			Timeout:                 10 * time.Second,
			RetryAttempts:           3,
			RetryBackoffType:        "exponential",
			RetryBaseDelay:          100 * time.Millisecond,
			RetryMaxDelay:           5 * time.Second,
			RetryJitter:             50 * time.Millisecond,
			BreakerFailureThreshold: 0.5,
			BreakerWindow:           1 * time.Minute,
			BreakerCooldownPeriod:   30 * time.Second,
			BreakerMinSamples:       10,
		},
		Cache: Cache{
			Backend:    "memory",
			DefaultTTL: 5 * time.Minute,
			MaxEntries: 10000,
			Namespace:  "djed",
			FileDir:    "./data/cache",
		},
		Queue: Queue{
			Name:            "default",
			Backend:         "memory",
			Concurrency:     8,
			DefaultAttempts: 3,
			DefaultTimeout:  30 * time.Second,
			BackoffType:     "exponential",
			BackoffBase:     500 * time.Millisecond,
			BackoffMax:      10 * time.Second,
			DLQGrace:        24 * time.Hour,
		},
		Observability: Observability{
			LogLevel:    "info",
			MetricsPort: 9090,
			Tracing:     TracingConfig{Enabled: false},
		},
	}
}

// Source is one layer of configuration. Load merges sources in order,
// right-biased: later sources overwrite earlier ones key by key.
type Source interface {
	Name() string
	Load() (map[string]any, error)
}

type fileSource struct{ path string }

// FileSource reads a YAML file, if present, via viper. A missing file is
// not an error — it simply contributes nothing.
func FileSource(path string) Source { return fileSource{path: path} }

func (f fileSource) Name() string { return "file://" + f.path }

func (f fileSource) Load() (map[string]any, error) {
	if _, err := os.Stat(f.path); err != nil {
		return map[string]any{}, nil
	}
	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read yaml: %w", err)
	}
	return v.AllSettings(), nil
}

type envSource struct{ prefix string }

// EnvSource scans os.Environ for PREFIX_SECTION_KEY=value entries,
// folding them into a nested map by reversing Viper's "."->"_" key
// replacer: underscore-separated words are kept together wherever the
// default config has such a key, so PREFIX_QUEUE_DEFAULT_ATTEMPTS sets
// queue.default_attempts.
func EnvSource(prefix string) Source { return envSource{prefix: prefix} }

func (e envSource) Name() string { return "env://" + e.prefix }

func (e envSource) Load() (map[string]any, error) {
	out := map[string]any{}
	schema := defaultsMap(defaultConfig())
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if e.prefix != "" {
			if !strings.HasPrefix(key, e.prefix) {
				continue
			}
			key = strings.TrimPrefix(key, e.prefix)
			key = strings.TrimPrefix(key, "_")
		}
		if key == "" {
			continue
		}
		parts := strings.Split(strings.ToLower(key), "_")
		var path []string
		level := schema
		for len(parts) > 0 {
			n := len(parts)
			for ; n > 1; n-- {
				if _, ok := level[strings.Join(parts[:n], "_")]; ok {
					break
				}
			}
			seg := strings.Join(parts[:n], "_")
			path = append(path, seg)
			parts = parts[n:]
			level, _ = level[seg].(map[string]any)
		}
		setNested(out, path, val)
	}
	return out, nil
}

type literalSource struct{ values map[string]any }

// LiteralSource wraps an in-memory map, mainly useful for tests.
func LiteralSource(values map[string]any) Source { return literalSource{values: values} }

func (l literalSource) Name() string { return "literal" }

func (l literalSource) Load() (map[string]any, error) { return l.values, nil }

func setNested(m map[string]any, path []string, val string) {
	if len(path) == 1 {
		m[path[0]] = val
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	setNested(child, path[1:], val)
}

func mergeRight(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeRight(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// Load merges sources left-to-right (later wins) and decodes the result
// into a validated Config. Source provenance is tracked per key
// (right-biased, same as the value merge) so that a validation failure
// can be attributed to the Source that supplied it.
func Load(sources ...Source) (*Config, error) {
	merged := defaultsMap(defaultConfig())
	provenance := map[string]string{}
	recordProvenance(merged, "", "default", provenance)

	for _, s := range sources {
		m, err := s.Load()
		if err != nil {
			return nil, fmt.Errorf("config source %s: %w", s.Name(), err)
		}
		mergeRight(merged, m)
		recordProvenance(m, "", s.Name(), provenance)
	}

	v := viper.New()
	if err := v.MergeConfigMap(merged); err != nil {
		return nil, fmt.Errorf("config: merge: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if errs := validateConfig(&cfg); len(errs) > 0 {
		return nil, &ConfigError{Errors: attributeSources(errs, provenance)}
	}
	return &cfg, nil
}

// recordProvenance walks a raw (possibly nested) source map and records,
// for every leaf key's dotted path, which source last supplied it —
// later calls (later sources) overwrite earlier attributions, mirroring
// mergeRight's right-biased value merge.
func recordProvenance(m map[string]any, prefix, source string, out map[string]string) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			recordProvenance(child, path, source, out)
			continue
		}
		out[path] = source
	}
}

// attributeSources pairs each validation failure with the Source that
// supplied the key at its Path, if known.
func attributeSources(errs validate.Errors, provenance map[string]string) []SourcedFieldError {
	out := make([]SourcedFieldError, len(errs))
	for i, fe := range errs {
		out[i] = SourcedFieldError{FieldError: fe, Source: provenance[fe.Path]}
	}
	return out
}

// defaultsMap mirrors defaultConfig() as a nested map keyed the same way
// the mapstructure tags above name each field, the way the teacher's
// config.Load seeded every v.SetDefault call by hand.
func defaultsMap(d *Config) map[string]any {
	return map[string]any{
		"redis": map[string]any{
			"addr":                  d.Redis.Addr,
			"username":              d.Redis.Username,
			"password":              d.Redis.Password,
			"db":                    d.Redis.DB,
			"pool_size_multiplier":  d.Redis.PoolSizeMultiplier,
			"min_idle_conns":        d.Redis.MinIdleConns,
			"dial_timeout":          d.Redis.DialTimeout,
			"read_timeout":          d.Redis.ReadTimeout,
			"write_timeout":         d.Redis.WriteTimeout,
			"max_retries":           d.Redis.MaxRetries,
		},
		"http_client": map[string]any{
			"webhook_url":                d.HTTPClient.WebhookURL,
			"timeout":                    d.HTTPClient.Timeout,
			"retry_attempts":             d.HTTPClient.RetryAttempts,
			"retry_backoff_type":         d.HTTPClient.RetryBackoffType,
			"retry_base_delay":           d.HTTPClient.RetryBaseDelay,
			"retry_max_delay":            d.HTTPClient.RetryMaxDelay,
			"retry_jitter":               d.HTTPClient.RetryJitter,
			"breaker_failure_threshold":  d.HTTPClient.BreakerFailureThreshold,
			"breaker_window":             d.HTTPClient.BreakerWindow,
			"breaker_cooldown_period":    d.HTTPClient.BreakerCooldownPeriod,
			"breaker_min_samples":        d.HTTPClient.BreakerMinSamples,
		},
		"cache": map[string]any{
			"backend":     d.Cache.Backend,
			"default_ttl": d.Cache.DefaultTTL,
			"max_entries": d.Cache.MaxEntries,
			"namespace":   d.Cache.Namespace,
			"file_dir":    d.Cache.FileDir,
		},
		"queue": map[string]any{
			"name":             d.Queue.Name,
			"backend":          d.Queue.Backend,
			"concurrency":      d.Queue.Concurrency,
			"default_attempts": d.Queue.DefaultAttempts,
			"default_timeout":  d.Queue.DefaultTimeout,
			"backoff_type":     d.Queue.BackoffType,
			"backoff_base":     d.Queue.BackoffBase,
			"backoff_max":      d.Queue.BackoffMax,
			"dlq_grace":        d.Queue.DLQGrace,
		},
		"observability": map[string]any{
			"log_level":    d.Observability.LogLevel,
			"metrics_port": d.Observability.MetricsPort,
			"tracing": map[string]any{
				"enabled":           d.Observability.Tracing.Enabled,
				"endpoint":          d.Observability.Tracing.Endpoint,
				"environment":       d.Observability.Tracing.Environment,
				"sampling_strategy": d.Observability.Tracing.SamplingStrategy,
				"sampling_rate":     d.Observability.Tracing.SamplingRate,
			},
		},
	}
}

// validateConfig runs every check and accumulates all failures, rather
// than stopping at the first — same applicative discipline as
// internal/validate.
func validateConfig(cfg *Config) validate.Errors {
	var errs validate.Errors

	add := func(path, code, msg string) {
		errs = append(errs, validate.FieldError{Path: path, Code: code, Message: msg})
	}

	if cfg.Queue.Concurrency < 1 {
		add("queue.concurrency", "min", "must be >= 1")
	}
	if cfg.Queue.DefaultAttempts < 1 {
		add("queue.default_attempts", "min", "must be >= 1")
	}
	if cfg.Queue.Backend != "memory" && cfg.Queue.Backend != "redis" {
		add("queue.backend", "one_of", "must be memory or redis")
	}
	if cfg.Queue.BackoffType != "fixed" && cfg.Queue.BackoffType != "exponential" {
		add("queue.backoff_type", "one_of", "must be fixed or exponential")
	}

	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "redis" && cfg.Cache.Backend != "file" {
		add("cache.backend", "one_of", "must be memory, redis, or file")
	}
	if cfg.Cache.MaxEntries < 1 {
		add("cache.max_entries", "min", "must be >= 1")
	}

	if cfg.HTTPClient.RetryAttempts < 1 {
		add("http_client.retry_attempts", "min", "must be >= 1")
	}
	if cfg.HTTPClient.BreakerFailureThreshold <= 0 || cfg.HTTPClient.BreakerFailureThreshold > 1 {
		add("http_client.breaker_failure_threshold", "range", "must be in (0, 1]")
	}
	if cfg.HTTPClient.RetryBackoffType != "fixed" && cfg.HTTPClient.RetryBackoffType != "exponential" {
		add("http_client.retry_backoff_type", "one_of", "must be fixed or exponential")
	}

	if r := validate.Port("observability.metrics_port")(cfg.Observability.MetricsPort); !r.IsOk() {
		errs = append(errs, r.Errors()...)
	}
	if cfg.Observability.LogLevel != "debug" && cfg.Observability.LogLevel != "info" &&
		cfg.Observability.LogLevel != "warn" && cfg.Observability.LogLevel != "error" {
		add("observability.log_level", "one_of", "must be debug, info, warn, or error")
	}

	return errs
}

