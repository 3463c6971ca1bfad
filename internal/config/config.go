package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Provider    ProviderConfig    `json:"provider"`
	Limits      LimitsConfig      `json:"limits"`
	Retry       RetryConfig       `json:"retry"`
	Compression CompressionConfig `json:"compression"`
	Store       StoreConfig       `json:"store"`
	Status      StatusConfig      `json:"status"`
	Workspace   WorkspaceConfig   `json:"workspace"`
}

type ProviderConfig struct {
	Type    string `json:"type"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model"`
}

// LimitsConfig bounds request and token throughput per sliding minute.
type LimitsConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute"`
}

type RetryConfig struct {
	MaxAttempts      int     `json:"max_attempts"`
	BaseDelaySeconds float64 `json:"base_delay_seconds"`
	MaxDelaySeconds  float64 `json:"max_delay_seconds"`
}

type CompressionConfig struct {
	TokenThreshold int `json:"token_threshold"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// WorkspaceConfig points the built-in task tools at the working files
// they read.
type WorkspaceConfig struct {
	BoardPath   string `json:"board_path"`
	JournalPath string `json:"journal_path"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	// Add config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Check for user config directory
	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".agentx-cli"))
	}

	// Set defaults
	viper.SetDefault("provider.type", "openai-compatible")
	viper.SetDefault("provider.model", "gemini-2.5-flash")
	viper.SetDefault("limits.requests_per_minute", 60)
	viper.SetDefault("limits.tokens_per_minute", 1000000)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay_seconds", 1.0)
	viper.SetDefault("retry.max_delay_seconds", 60.0)
	viper.SetDefault("compression.token_threshold", 400000)
	viper.SetDefault("store.path", "usage.db")
	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.host", "localhost")
	viper.SetDefault("status.port", 3000)
	viper.SetDefault("workspace.board_path", "TASKS.md")
	viper.SetDefault("workspace.journal_path", "JOURNAL.md")

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file is fine, the defaults cover everything but
		// the API key.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func loadEnvOverrides(cfg *Config) {
	// Override with environment variables
	if key := os.Getenv("AGENTX_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if baseURL := os.Getenv("AGENTX_BASE_URL"); baseURL != "" {
		cfg.Provider.BaseURL = baseURL
	}
	if model := os.Getenv("AGENTX_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if host := os.Getenv("AGENTX_STATUS_HOST"); host != "" {
		cfg.Status.Host = host
	}
	if port := os.Getenv("AGENTX_STATUS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Status.Port = p
		}
	}
	if path := os.Getenv("AGENTX_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
}
