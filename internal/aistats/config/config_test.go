package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RobinCoderZhao/aistats/pkg/llm"
	"github.com/RobinCoderZhao/aistats/pkg/storage"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Pipeline.Fetch.BatchSize != 10 || cfg.Pipeline.Fetch.Timeout != 10*time.Second || cfg.Pipeline.Fetch.CacheTTL != 30*time.Minute {
		t.Fatalf("unexpected fetch defaults %+v", cfg.Pipeline.Fetch)
	}
	if cfg.Pipeline.Expansion.Temperature != 0.3 || cfg.Pipeline.Expansion.Timeout != 30*time.Second {
		t.Fatalf("unexpected expansion defaults %+v", cfg.Pipeline.Expansion)
	}
	if cfg.Storage.Driver != storage.SQLite {
		t.Fatalf("expected sqlite storage, got %s", cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "XAI_API_KEY"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "aistats.yaml")
	content := `
llm:
  provider: claude
  model: claude-3-5-haiku-20241022
pipeline:
  fetch:
    batch_size: 4
    timeout: 5s
  authority:
    statistics: ["acme stats"]
cache:
  driver: redis
  redis:
    address: localhost:6379
storage:
  driver: postgres
  dsn: postgres://localhost/aistats
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AISTATS_FETCH_TIMEOUT", "7s")
	t.Setenv("AISTATS_LLM_API_KEY", "sk-test")
	t.Setenv("BLS_API_KEY", "bls-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != llm.Claude || cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.Pipeline.Fetch.BatchSize != 4 || cfg.Pipeline.Fetch.Timeout != 7*time.Second {
		t.Fatalf("unexpected fetch config %+v", cfg.Pipeline.Fetch)
	}
	if cfg.Pipeline.Fetch.CacheTTL != 30*time.Minute {
		t.Fatalf("unset fields should keep defaults, got %s", cfg.Pipeline.Fetch.CacheTTL)
	}
	if cfg.Pipeline.Authority["statistics"][0] != "acme stats" {
		t.Fatalf("authority override lost: %v", cfg.Pipeline.Authority)
	}
	if cfg.Credentials.BLSAPIKey != "bls-key" {
		t.Fatal("credential env override not applied")
	}
	if cfg.Storage.Driver != storage.Postgres || cfg.Cache.Driver != CacheRedis {
		t.Fatalf("unexpected drivers %s/%s", cfg.Storage.Driver, cfg.Cache.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown cache", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"redis without address", func(c *Config) { c.Cache.Driver = CacheRedis }},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "oracle" }},
		{"negative batch", func(c *Config) { c.Pipeline.Fetch.BatchSize = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"warming without cache", func(c *Config) {
			c.Cache.Driver = CacheDisabled
			c.Pipeline.WarmInterval = time.Minute
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "source", "ONS")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"source":"ONS"`) {
		t.Fatalf("expected JSON output, got %q", out)
	}
}
