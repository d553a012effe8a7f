// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix      = "DOQ_"
	envConfigFile  = "DOQ_CONFIG_FILE"
	defaultCfgFile = "config.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	LLM       LLMConfig       `koanf:"llm"`
	RAG       RAGConfig       `koanf:"rag"`
	Turn      TurnConfig      `koanf:"turn"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           string `koanf:"port"`
	FrontendURL    string `koanf:"frontend_url"`
	// AllowedOrigins is a comma-separated origin list; "*" allows any.
	AllowedOrigins string `koanf:"allowed_origins"`
}

// StoreConfig controls persistence and retention.
type StoreConfig struct {
	DBPath        string        `koanf:"db_path"`
	CacheSize     int           `koanf:"cache_size"`
	Retention     time.Duration `koanf:"retention"` // 0 keeps sessions forever
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LLMConfig selects the text oracle backend.
type LLMConfig struct {
	Provider       string        `koanf:"provider"` // gemini, openai, static
	Model          string        `koanf:"model"`
	APIKey         string        `koanf:"api_key"` // ${VAR} references are expanded
	BaseURL        string        `koanf:"base_url"`
	Temperature    float64       `koanf:"temperature"`
	MaxTokens      int           `koanf:"max_tokens"`
	Timeout        time.Duration `koanf:"timeout"`
	EmbeddingModel string        `koanf:"embedding_model"`
}

// RAGConfig controls reference retrieval.
type RAGConfig struct {
	ReferenceDir string `koanf:"reference_dir"`
	TopK         int    `koanf:"top_k"`
}

// TurnConfig controls the turn orchestrator.
type TurnConfig struct {
	HistoryLimit      int  `koanf:"history_limit"`
	AgreementWindow   int  `koanf:"agreement_window"`
	QuestionDetection bool `koanf:"question_detection"`
	PromptTokenBudget int  `koanf:"prompt_token_budget"`
}

// RateLimitConfig bounds inbound requests per session and role.
type RateLimitConfig struct {
	Requests int           `koanf:"requests"` // 0 disables limiting
	Window   time.Duration `koanf:"window"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":              "8080",
	"server.frontend_url":      "",
	"server.allowed_origins":   "*",
	"store.db_path":            "./data/doq.db",
	"store.cache_size":         1024,
	"store.retention":          "720h",
	"store.sweep_interval":     "1h",
	"llm.provider":             "gemini",
	"llm.temperature":          0.4,
	"llm.max_tokens":           2048,
	"llm.timeout":              "60s",
	"rag.reference_dir":        "./data/references",
	"rag.top_k":                3,
	"turn.history_limit":       20,
	"turn.agreement_window":    10,
	"turn.question_detection":  true,
	"turn.prompt_token_budget": 12000,
	"ratelimit.requests":       30,
	"ratelimit.window":         "1m",
	"tracing.enabled":          false,
	"tracing.service_name":     "doq-mediator",
	"log.level":                "info",
}

// Load reads configuration from defaults, an optional YAML file and
// DOQ_-prefixed environment variables, in increasing precedence. Nested keys
// use "__" in variable names: DOQ_LLM__API_KEY sets llm.api_key.
//
// The file is DOQ_CONFIG_FILE when set, which must then exist, or
// config.yaml when present.
func Load() (*Config, error) {
	k := koanf.New(".")

	path, explicit := os.LookupEnv(envConfigFile)
	if !explicit || path == "" {
		path = defaultCfgFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port cannot be empty")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path cannot be empty")
	}
	if c.Store.CacheSize <= 0 {
		return fmt.Errorf("store.cache_size must be > 0")
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention cannot be negative")
	}
	if c.Store.Retention > 0 && c.Store.SweepInterval <= 0 {
		return fmt.Errorf("store.sweep_interval must be > 0 when retention is enabled")
	}
	if strings.TrimSpace(c.LLM.Provider) == "" {
		return fmt.Errorf("llm.provider cannot be empty")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be > 0")
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be > 0")
	}
	if c.Turn.HistoryLimit <= 0 {
		return fmt.Errorf("turn.history_limit must be > 0")
	}
	if c.Turn.AgreementWindow <= 0 {
		return fmt.Errorf("turn.agreement_window must be > 0")
	}
	if c.Turn.PromptTokenBudget < 0 {
		return fmt.Errorf("turn.prompt_token_budget cannot be negative")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("ratelimit.requests cannot be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.FrontendURL == "" ||
		strings.Contains(c.Server.FrontendURL, "localhost") ||
		strings.Contains(c.Server.FrontendURL, "127.0.0.1")
}

// Origins splits the allowed origin list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.Server.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.Log.Level)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is not a valid level", s)
	}
	return lvl, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
