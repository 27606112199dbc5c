// Package config provides the aistats service and CLI configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/fetch"
	"github.com/RobinCoderZhao/aistats/internal/aistats/keywords"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/cache"
	appconfig "github.com/RobinCoderZhao/aistats/pkg/config"
	"github.com/RobinCoderZhao/aistats/pkg/llm"
	"github.com/RobinCoderZhao/aistats/pkg/storage"
)

// Cache drivers.
const (
	CacheMemory   = "memory"
	CacheSQL      = "sql"
	CacheRedis    = "redis"
	CacheDisabled = "none"
)

// Config is the root configuration.
type Config struct {
	LLM         llm.Config          `yaml:"llm"`
	Pipeline    PipelineConfig      `yaml:"pipeline"`
	Generator   GeneratorConfig     `yaml:"generator"`
	Cache       CacheConfig         `yaml:"cache"`
	Storage     storage.Config      `yaml:"storage"`
	Credentials sources.Credentials `yaml:"credentials"`
	API         APIConfig           `yaml:"api"`
	Log         LogConfig           `yaml:"log"`
}

// PipelineConfig tunes the candidate pipeline.
type PipelineConfig struct {
	Fetch        fetch.Config        `yaml:"fetch"`
	Expansion    keywords.Config     `yaml:"expansion"`
	ExpandWithAI bool                `yaml:"expand_with_ai" env:"AISTATS_EXPAND_WITH_AI"`
	DefaultLimit int                 `yaml:"default_limit" env:"AISTATS_DEFAULT_LIMIT"`
	Authority    map[string][]string `yaml:"authority"`
	HTTPTimeout  time.Duration       `yaml:"http_timeout"`
	// WarmInterval refetches every mode in the background; 0 disables it.
	WarmInterval time.Duration `yaml:"warm_interval" env:"AISTATS_WARM_INTERVAL"`
	// BigQueryEndpoint overrides the warehouse REST base URL.
	BigQueryEndpoint string `yaml:"bigquery_endpoint"`
}

// GeneratorConfig controls content generation.
type GeneratorConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"AISTATS_CONTENT_CACHE_TTL"`
	MaxTokens int           `yaml:"max_tokens"`
	Template  string        `yaml:"template"`
}

// CacheConfig selects the result store.
type CacheConfig struct {
	Driver string            `yaml:"driver" env:"AISTATS_CACHE_DRIVER"` // memory, sql, redis, none
	Redis  cache.RedisConfig `yaml:"redis"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Addr       string        `yaml:"addr" env:"AISTATS_API_ADDR"`
	JWTSecret  string        `yaml:"jwt_secret" env:"AISTATS_JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	CORSOrigin string        `yaml:"cors_origin" env:"AISTATS_CORS_ORIGIN"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level" env:"AISTATS_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"AISTATS_LOG_FORMAT"` // text, json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	llmCfg := llm.DefaultConfig()
	llmCfg.Provider = ""
	llmCfg.Model = ""
	llmCfg.Temperature = 0.7

	return Config{
		LLM: llmCfg,
		Pipeline: PipelineConfig{
			Fetch:        fetch.DefaultConfig(),
			Expansion:    keywords.DefaultConfig(),
			ExpandWithAI: true,
			DefaultLimit: 10,
			HTTPTimeout:  15 * time.Second,
		},
		Generator: GeneratorConfig{
			CacheTTL:  6 * time.Hour,
			MaxTokens: 300,
		},
		Cache: CacheConfig{Driver: CacheSQL},
		Storage: storage.Config{
			Driver: storage.SQLite,
			DSN:    "data/aistats.db",
		},
		API: APIConfig{
			Addr:     ":8080",
			TokenTTL: 7 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (or the standard locations when path is empty) on top of
// the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := appconfig.Load(path, &cfg); err != nil {
			return cfg, err
		}
	} else if _, err := os.Stat("aistats.yaml"); err == nil {
		if err := appconfig.Load("aistats.yaml", &cfg); err != nil {
			return cfg, err
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		if err := appconfig.LoadOrDefault(filepath.Join(home, ".aistats.yaml"), &cfg); err != nil {
			return cfg, err
		}
	} else {
		appconfig.ApplyEnv(&cfg)
	}

	cfg.LLM = llm.FromEnv(cfg.LLM)
	return cfg, cfg.Validate()
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Cache.Driver {
	case CacheMemory, CacheSQL, CacheRedis, CacheDisabled, "":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Cache.Driver == CacheRedis && c.Cache.Redis.Address == "" {
		return fmt.Errorf("cache.redis.address is required for the redis cache")
	}
	switch c.Storage.Driver {
	case storage.SQLite, storage.Postgres, "":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Pipeline.Fetch.BatchSize < 0 {
		return fmt.Errorf("pipeline.fetch.batch_size must not be negative")
	}
	if c.Pipeline.WarmInterval > 0 && c.Cache.Driver == CacheDisabled {
		return fmt.Errorf("pipeline.warm_interval needs a cache")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds a logger that writes to w.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
