// internal/common/config/config.go
package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Bus          BusConfig          `mapstructure:"bus"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Providers    []ProviderConfig   `mapstructure:"providers"`
	Synthesis    SynthesisConfig    `mapstructure:"synthesis"`
	Ops          OpsConfig          `mapstructure:"ops"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// OrchestratorConfig holds every tunable the coordinator and its
// sub-components recognize. All durations are milliseconds.
type OrchestratorConfig struct {
	SharedGatherBudgetMs  int `mapstructure:"shared_gather_budget_ms"`
	PerProviderTimeoutMs  int `mapstructure:"per_provider_timeout_ms"`
	DispatchTimeoutMs     int `mapstructure:"dispatch_timeout_ms"`
	RequestTimeoutMs      int `mapstructure:"request_timeout_ms"`
	HealthCheckCooldownMs int `mapstructure:"health_check_cooldown_ms"`
	HealthRefreshMs       int `mapstructure:"health_refresh_ms"`
	LastKnownGoodTTLMs    int `mapstructure:"last_known_good_ttl_ms"`
}

func (o OrchestratorConfig) GatherBudget() time.Duration {
	return time.Duration(o.SharedGatherBudgetMs) * time.Millisecond
}

func (o OrchestratorConfig) PerProviderTimeout() time.Duration {
	return time.Duration(o.PerProviderTimeoutMs) * time.Millisecond
}

func (o OrchestratorConfig) DispatchTimeout() time.Duration {
	return time.Duration(o.DispatchTimeoutMs) * time.Millisecond
}

func (o OrchestratorConfig) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutMs) * time.Millisecond
}

func (o OrchestratorConfig) HealthCheckCooldown() time.Duration {
	return time.Duration(o.HealthCheckCooldownMs) * time.Millisecond
}

func (o OrchestratorConfig) HealthRefresh() time.Duration {
	return time.Duration(o.HealthRefreshMs) * time.Millisecond
}

func (o OrchestratorConfig) LastKnownGoodTTL() time.Duration {
	return time.Duration(o.LastKnownGoodTTLMs) * time.Millisecond
}

// BusConfig holds event bus retry/dead-letter settings.
type BusConfig struct {
	MaxRetries    int `mapstructure:"max_retries"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffCapMs  int `mapstructure:"backoff_cap_ms"`
}

func (b BusConfig) BackoffBase() time.Duration {
	return time.Duration(b.BackoffBaseMs) * time.Millisecond
}

func (b BusConfig) BackoffCap() time.Duration {
	return time.Duration(b.BackoffCapMs) * time.Millisecond
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig is the file-level shape of a provider descriptor.
type ProviderConfig struct {
	ID        string  `mapstructure:"id"`
	Kind      string  `mapstructure:"kind"`
	Floor     float64 `mapstructure:"floor"`
	Ceiling   float64 `mapstructure:"ceiling"`
	Priority  int     `mapstructure:"priority"`
	TimeoutMs int     `mapstructure:"timeout_ms"`
}

// SynthesisConfig configures the terminal synthesis adapters.
type SynthesisConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIModel     string `mapstructure:"openai_model"`
	DefaultContent  string `mapstructure:"default_content"`
}

type OpsConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
