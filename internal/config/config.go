// Package config loads and validates digest service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Events   EventsConfig   `mapstructure:"events"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Digest   DigestConfig   `mapstructure:"digest"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
}

// DatabaseConfig selects the record store. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// FetcherConfig governs outbound HTTP.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	HostIntervalMs int    `mapstructure:"host_interval_ms"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`

	Headless HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig controls the optional browser render fallback.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// PipelineConfig tunes run execution.
type PipelineConfig struct {
	ItemConcurrency int `mapstructure:"item_concurrency"`
}

// EventsConfig tunes event polling and streaming.
type EventsConfig struct {
	PageSize         int `mapstructure:"page_size"`
	StreamIntervalMs int `mapstructure:"stream_interval_ms"`
}

// WorkerConfig controls the run claim loops.
type WorkerConfig struct {
	Count          int `mapstructure:"count"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// LLMConfig configures the classification backend.
type LLMConfig struct {
	Provider            string  `mapstructure:"provider"`
	BaseURL             string  `mapstructure:"base_url"`
	Model               string  `mapstructure:"model"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	ProbeTimeoutSeconds int     `mapstructure:"probe_timeout_seconds"`
	MaxInputChars       int     `mapstructure:"max_input_chars"`
	Temperature         float64 `mapstructure:"temperature"`
	MaxTokens           int     `mapstructure:"max_tokens"`
}

// TaxonomyConfig points at an optional YAML seed of topics and sources.
type TaxonomyConfig struct {
	File string `mapstructure:"file"`
}

// StorageConfig selects where rendered digests are written.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for run completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DigestConfig controls digest assembly.
type DigestConfig struct {
	WindowHours int `mapstructure:"window_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// LLM providers.
const (
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// EnvPrefix prefixes every environment override, e.g. ESG_DIGEST_DATABASE_DSN.
const EnvPrefix = "ESG_DIGEST"

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("fetcher.user_agent", "ESG-News-Digest/1.0 (+https://github.com/esg-digest)")
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.max_concurrent", 4)
	v.SetDefault("fetcher.host_interval_ms", 1000)
	v.SetDefault("fetcher.max_body_bytes", 10<<20)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.headless.enabled", false)
	v.SetDefault("fetcher.headless.max_parallel", 2)
	v.SetDefault("fetcher.headless.nav_timeout_seconds", 45)
	v.SetDefault("fetcher.headless.promotion_threshold", 2048)
	v.SetDefault("pipeline.item_concurrency", 4)
	v.SetDefault("events.page_size", 100)
	v.SetDefault("events.stream_interval_ms", 500)
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("llm.provider", ProviderOllama)
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3.2")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.probe_timeout_seconds", 5)
	v.SetDefault("llm.max_input_chars", 8000)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("taxonomy.file", "")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "digests")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("digest.window_hours", 24)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxConcurrent <= 0 {
		return fmt.Errorf("fetcher.max_concurrent must be > 0")
	}
	if c.Fetcher.HostIntervalMs < 0 {
		return fmt.Errorf("fetcher.host_interval_ms must be >= 0")
	}
	if c.Fetcher.Headless.Enabled && c.Fetcher.Headless.MaxParallel < 0 {
		return fmt.Errorf("fetcher.headless.max_parallel must be >= 0")
	}
	if c.Pipeline.ItemConcurrency <= 0 {
		return fmt.Errorf("pipeline.item_concurrency must be > 0")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	if c.Worker.PollIntervalMs <= 0 {
		return fmt.Errorf("worker.poll_interval_ms must be > 0")
	}
	switch c.LLM.Provider {
	case ProviderOllama:
		if c.LLM.TimeoutSeconds <= 0 || c.LLM.ProbeTimeoutSeconds <= 0 {
			return fmt.Errorf("llm timeouts must be > 0")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Digest.WindowHours <= 0 {
		return fmt.Errorf("digest.window_hours must be > 0")
	}
	return nil
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// HostInterval returns the minimum spacing between requests to one host.
// Zero disables the per-host delay.
func (c Config) HostInterval() time.Duration {
	if c.Fetcher.HostIntervalMs == 0 {
		return -1
	}
	return time.Duration(c.Fetcher.HostIntervalMs) * time.Millisecond
}

// PollInterval returns how long an idle worker waits between claims.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// DigestWindow returns the default digest lookback.
func (c Config) DigestWindow() time.Duration {
	return time.Duration(c.Digest.WindowHours) * time.Hour
}
