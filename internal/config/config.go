// Package config loads memoryd's YAML configuration, layering a file
// on top of built-in defaults with dario.cat/mergo the same way the
// teacher's server config loader does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend,omitempty"` // "embedded", "cloud", or "federated"
	Path    string `yaml:"path,omitempty"`
	Cloud   struct {
		VectorEndpoint string `yaml:"vector_endpoint,omitempty"`
		RelationalDSN  string `yaml:"relational_dsn,omitempty"`
		ObjectBucket   string `yaml:"object_bucket,omitempty"`
		RepairCronSpec string `yaml:"repair_cron_spec,omitempty"`
		RedisAddr      string `yaml:"redis_addr,omitempty"`
		RedisChannel   string `yaml:"redis_channel,omitempty"`
		// LargeContentThresholdBytes, MaxRetries, and BaseDelaySeconds
		// mirror the spec's cloud.large_content_threshold_bytes,
		// cloud.max_retries, and cloud.base_delay_s.
		LargeContentThresholdBytes int64   `yaml:"large_content_threshold_bytes,omitempty"`
		MaxRetries                 int     `yaml:"max_retries,omitempty"`
		BaseDelaySeconds           float64 `yaml:"base_delay_s,omitempty"`
	} `yaml:"cloud,omitempty"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider,omitempty"` // "ollama" or "openai"
	Model     string `yaml:"model,omitempty"`
	CacheSize int64  `yaml:"cache_size,omitempty"`
	Ollama    struct {
		BaseURL string `yaml:"base_url,omitempty"`
	} `yaml:"ollama,omitempty"`
	OpenAI struct {
		APIKey string `yaml:"api_key,omitempty"`
	} `yaml:"openai,omitempty"`
}

// FederatedConfig points a http_client-mode process at its coordinator.
type FederatedConfig struct {
	CoordinatorURL string `yaml:"coordinator_url,omitempty"`
	AuthToken      string `yaml:"auth_token,omitempty"`
}

// HTTPConfig controls the coordinator's HTTP surface.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
	// AuthToken, when set, is the bearer token every request to the
	// coordinator surface must present (spec §6.2). Empty means the
	// surface is unauthenticated.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// Config is memoryd's full configuration surface (spec §6.4).
type Config struct {
	Storage                StorageConfig   `yaml:"storage,omitempty"`
	Embedding              EmbeddingConfig `yaml:"embedding,omitempty"`
	Federated              FederatedConfig `yaml:"federated,omitempty"`
	HTTP                   HTTPConfig      `yaml:"http,omitempty"`
	HostnameTaggingEnabled bool            `yaml:"hostname_tagging_enabled,omitempty"`
	LogLevel               string          `yaml:"log_level,omitempty"`
}

// DefaultPath returns the default config file path, honoring
// MEMORYD_CONFIG_PATH and expanding a leading "~".
func DefaultPath() string {
	if envPath := os.Getenv("MEMORYD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.memoryd/config.yaml"
	}
	return filepath.Join(homeDir, ".memoryd", "config.yaml")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func defaults() Config {
	var cfg Config
	cfg.Storage.Backend = "embedded"
	cfg.Storage.Path = "./.memoryd/memories.db"
	cfg.Storage.Cloud.RepairCronSpec = "@every 30s"
	cfg.Storage.Cloud.RedisChannel = "memoryd:repair"
	cfg.Storage.Cloud.LargeContentThresholdBytes = 1_048_576
	cfg.Storage.Cloud.MaxRetries = 3
	cfg.Storage.Cloud.BaseDelaySeconds = 1.0
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Embedding.CacheSize = 1024
	cfg.Embedding.Ollama.BaseURL = "http://localhost:11434"
	cfg.HTTP.Addr = "127.0.0.1:8443"
	cfg.HostnameTaggingEnabled = true
	cfg.LogLevel = "info"
	return cfg
}

// Load reads path (if it exists) and merges it onto defaults(), with
// the file's values taking precedence, mirroring the teacher's
// LoadServerConfig. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()

	expanded := expandPath(path)
	if _, err := os.Stat(expanded); err != nil {
		return cfg, nil
	}

	raw, err := os.ReadFile(expanded)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", expanded, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", expanded, err)
	}

	if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config file onto defaults: %w", err)
	}
	return cfg, nil
}
