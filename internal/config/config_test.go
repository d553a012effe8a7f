package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %q", cfg.Server.Port)
	}
	if cfg.Store.Retention != 720*time.Hour || cfg.Store.SweepInterval != time.Hour {
		t.Errorf("unexpected retention settings %+v", cfg.Store)
	}
	if cfg.Turn.HistoryLimit != 20 || cfg.Turn.AgreementWindow != 10 || !cfg.Turn.QuestionDetection {
		t.Errorf("unexpected turn settings %+v", cfg.Turn)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Temperature != 0.4 || cfg.LLM.MaxTokens != 2048 {
		t.Errorf("unexpected llm settings %+v", cfg.LLM)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.LogLevel())
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode without frontend url")
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yml := `
server:
  port: "9090"
  frontend_url: https://doq.example
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: ${DOQ_TEST_OPENAI_KEY}
turn:
  agreement_window: 6
store:
  retention: 48h
`
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOQ_CONFIG_FILE", path)
	t.Setenv("DOQ_TEST_OPENAI_KEY", "sk-test")
	t.Setenv("DOQ_TURN__AGREEMENT_WINDOW", "4")
	t.Setenv("DOQ_LOG__LEVEL", "debug")
	t.Setenv("DOQ_RATELIMIT__WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected file port, got %q", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("expected file llm settings, got %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("expected api key expanded, got %q", cfg.LLM.APIKey)
	}
	if cfg.Turn.AgreementWindow != 4 {
		t.Errorf("expected env to override file, got %d", cfg.Turn.AgreementWindow)
	}
	if cfg.Store.Retention != 48*time.Hour {
		t.Errorf("expected file retention, got %v", cfg.Store.Retention)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("expected env window, got %v", cfg.RateLimit.Window)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel())
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode with a public frontend url")
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DOQ_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DOQ_TURN__HISTORY_LIMIT", "0")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "turn.history_limit") {
		t.Fatalf("expected history limit error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:  ServerConfig{Port: "8080"},
			Store:   StoreConfig{DBPath: "doq.db", CacheSize: 10, Retention: time.Hour, SweepInterval: time.Minute},
			LLM:     LLMConfig{Provider: "static", Temperature: 0.4, MaxTokens: 100},
			RAG:     RAGConfig{TopK: 3},
			Turn:    TurnConfig{HistoryLimit: 20, AgreementWindow: 10},
			Log:     LogConfig{Level: "info"},
			Tracing: TracingConfig{ServiceName: "doq"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"empty db path", func(c *Config) { c.Store.DBPath = "" }, "store.db_path"},
		{"no sweep interval", func(c *Config) { c.Store.SweepInterval = 0 }, "store.sweep_interval"},
		{"retention disabled needs no interval", func(c *Config) { c.Store.Retention = 0; c.Store.SweepInterval = 0 }, ""},
		{"empty provider", func(c *Config) { c.LLM.Provider = " " }, "llm.provider"},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"negative rate limit", func(c *Config) { c.RateLimit.Requests = -1 }, "ratelimit.requests"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	cfg := Config{Server: ServerConfig{AllowedOrigins: " https://a.example, ,https://b.example "}}
	want := []string{"https://a.example", "https://b.example"}
	if diff := cmp.Diff(want, cfg.Origins()); diff != "" {
		t.Errorf("unexpected origins (-want +got):\n%s", diff)
	}
}
