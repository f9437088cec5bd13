// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like ORCHESTRATOR_SHARED_GATHER_BUDGET_MS
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, e.g. config.production.yaml
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // ignore error if not found

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env in the working directory, its parents, and the
// project root (tests run from nested package directories).
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "oracle-orchestrator"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Orchestrator.SharedGatherBudgetMs == 0 {
		cfg.Orchestrator.SharedGatherBudgetMs = 150
	}
	if cfg.Orchestrator.PerProviderTimeoutMs == 0 {
		cfg.Orchestrator.PerProviderTimeoutMs = 120
	}
	if cfg.Orchestrator.DispatchTimeoutMs == 0 {
		cfg.Orchestrator.DispatchTimeoutMs = 2000
	}
	if cfg.Orchestrator.RequestTimeoutMs == 0 {
		cfg.Orchestrator.RequestTimeoutMs = 5000
	}
	if cfg.Orchestrator.HealthCheckCooldownMs == 0 {
		cfg.Orchestrator.HealthCheckCooldownMs = 5000
	}
	if cfg.Orchestrator.HealthRefreshMs == 0 {
		cfg.Orchestrator.HealthRefreshMs = 10000
	}
	if cfg.Orchestrator.LastKnownGoodTTLMs == 0 {
		cfg.Orchestrator.LastKnownGoodTTLMs = 600000
	}

	if cfg.Bus.MaxRetries == 0 {
		cfg.Bus.MaxRetries = 3
	}
	if cfg.Bus.BackoffBaseMs == 0 {
		cfg.Bus.BackoffBaseMs = 50
	}
	if cfg.Bus.BackoffCapMs == 0 {
		cfg.Bus.BackoffCapMs = 2000
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}

	if cfg.Ops.ListenAddress == "" {
		cfg.Ops.ListenAddress = ":8090"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Synthesis.AnthropicModel == "" {
		cfg.Synthesis.AnthropicModel = "claude-sonnet-4-20250514"
	}
	if cfg.Synthesis.OpenAIModel == "" {
		cfg.Synthesis.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.Synthesis.DefaultContent == "" {
		cfg.Synthesis.DefaultContent = "The oracle is quiet right now. Take a breath and ask again in a moment."
	}

	if cfg.Synthesis.AnthropicAPIKey == "" {
		cfg.Synthesis.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Synthesis.OpenAIAPIKey == "" {
		cfg.Synthesis.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Providers without an explicit timeout inherit the per-provider default.
	for i := range cfg.Providers {
		if cfg.Providers[i].TimeoutMs == 0 {
			cfg.Providers[i].TimeoutMs = cfg.Orchestrator.PerProviderTimeoutMs
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Orchestrator.SharedGatherBudgetMs < 0 {
		return fmt.Errorf("orchestrator.shared_gather_budget_ms must be positive")
	}
	if cfg.Bus.MaxRetries < 0 {
		return fmt.Errorf("bus.max_retries must not be negative")
	}
	if cfg.Bus.BackoffCapMs < cfg.Bus.BackoffBaseMs {
		return fmt.Errorf("bus.backoff_cap_ms must be >= bus.backoff_base_ms")
	}
	for i, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if p.Floor < 0 || p.Ceiling > 1 || p.Floor > p.Ceiling {
			return fmt.Errorf("providers[%d] (%s): floor/ceiling must satisfy 0 <= floor <= ceiling <= 1", i, p.ID)
		}
	}
	return nil
}
