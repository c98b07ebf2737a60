// Package config loads the gateway's runtime configuration from the
// environment (optionally via a .env file) plus an optional static YAML
// file for provider routing. Grounded on
// intelligencedev-manifold/internal/config/loader.go's "godotenv.Overload,
// then os.Getenv with TrimSpace, then apply defaults" shape, trimmed to
// this gateway's narrower surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreBackend selects the Store implementation the Gateway wires up.
type StoreBackend string

const (
	StoreInMemory StoreBackend = "inmem"
	StoreSQL      StoreBackend = "sql"
	StoreRedis    StoreBackend = "redis"
)

// ProviderConfig configures one upstream adapter instance. Name is the
// adapter kind ("openaicompat", "anthropic", "bedrock", "gemini", "ollama",
// "openaigateway"); Models lists the model names this instance answers for
// (an empty list means "catch-all" for any model no other entry names).
type ProviderConfig struct {
	Name    string   `yaml:"name"`
	BaseURL string   `yaml:"base_url,omitempty"`
	APIKey  string   `yaml:"api_key,omitempty"`
	Region  string   `yaml:"region,omitempty"`
	Models  []string `yaml:"models,omitempty"`
}

// Config is the fully resolved set of knobs the Gateway binary needs.
type Config struct {
	ListenAddr string

	// APIKeys authorizes bearer tokens presented to the REST surface; empty
	// disables auth entirely (useful for local development).
	APIKeys []string

	StoreBackend StoreBackend
	SQLDSN       string
	RedisAddr    string
	RedisDB      int

	RunTimeout    time.Duration
	MaxIterations int

	LogLevel  string
	LogFormat string // "console" | "json"

	Providers []ProviderConfig
}

// Load reads Config from the environment (after an optional .env overlay)
// and, if present, a static YAML file naming provider routing.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		ListenAddr:    firstNonEmpty(os.Getenv("LISTEN_ADDR"), ":8080"),
		StoreBackend:  StoreBackend(firstNonEmpty(os.Getenv("STORE_BACKEND"), string(StoreInMemory))),
		SQLDSN:        os.Getenv("SQL_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RunTimeout:    10 * time.Minute,
		MaxIterations: 10,
		LogLevel:      firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogFormat:     firstNonEmpty(os.Getenv("LOG_FORMAT"), "console"),
	}

	if v := strings.TrimSpace(os.Getenv("API_KEYS")); v != "" {
		cfg.APIKeys = splitAndTrim(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}
	if v := strings.TrimSpace(os.Getenv("RUN_TIMEOUT_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: RUN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.RunTimeout = time.Duration(n) * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ITERATIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: MAX_ITERATIONS: %w", err)
		}
		cfg.MaxIterations = n
	}

	switch cfg.StoreBackend {
	case StoreInMemory, StoreSQL, StoreRedis:
	default:
		return Config{}, fmt.Errorf("config: STORE_BACKEND must be one of inmem, sql, redis (got %q)", cfg.StoreBackend)
	}

	providersPath := firstNonEmpty(os.Getenv("PROVIDERS_CONFIG"), "providers.yaml")
	providers, err := loadProviders(providersPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Providers = providers

	return cfg, nil
}

// loadProviders reads an optional YAML file listing provider routing. A
// missing file is not an error: it yields no provider entries, and no
// provider is configured from environment variables instead.
func loadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc struct {
		Providers []ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i := range doc.Providers {
		doc.Providers[i].APIKey = expandEnv(doc.Providers[i].APIKey)
	}
	return doc.Providers, nil
}

// expandEnv resolves a "${VAR_NAME}" reference in a YAML value to the
// named environment variable, so provider API keys never need to be
// written in plaintext next to routing config.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}"))
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
