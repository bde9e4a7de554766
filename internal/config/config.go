// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for autoheal.
// It handles loading and parsing YAML configuration files, applies defaults
// for absent keys, and lets AUTOHEAL_* environment variables override the
// secrets and paths that usually differ between machines.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/types"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIKey   = "AUTOHEAL_API_KEY"
	EnvBaseURL  = "AUTOHEAL_BASE_URL"
	EnvModel    = "AUTOHEAL_MODEL"
	EnvCacheDir = "AUTOHEAL_CACHE_DIR"
	EnvStateDir = "AUTOHEAL_STATE_DIR"
)

// Provider names accepted by ai.provider.
const (
	ProviderOpenAICompatible = "openai-compatible"
	ProviderMock             = "mock"
)

// DefaultPort is the management API port.
const DefaultPort = 8317

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files. Empty means <state-dir>/logs.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogsMaxSizeMB caps a single log file before rotation.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb" json:"logs-max-size-mb"`

	// StateDir is the root for persistent state such as the file cache.
	StateDir string `yaml:"state-dir" json:"state-dir"`

	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Resilience  ResilienceConfig  `yaml:"resilience" json:"resilience"`
	AI          AIConfig          `yaml:"ai" json:"ai"`
	Locator     LocatorConfig     `yaml:"locator" json:"locator"`
	API         APIConfig         `yaml:"api" json:"api"`
}

// PerformanceConfig tunes the resolution pipeline.
type PerformanceConfig struct {
	// QuickCheckTimeout bounds the initial lookup of the original selector.
	// Default: "500ms".
	QuickCheckTimeout string `yaml:"quick-check-timeout" json:"quick-check-timeout"`

	// ElementTimeout bounds loading the page a resolution runs against.
	// Resolutions themselves are bounded per lookup by locator.timeout and
	// per AI call by ai.request-timeout. Default: "10s".
	ElementTimeout string `yaml:"element-timeout" json:"element-timeout"`

	// ExecutionStrategy is one of sequential, parallel, smart_sequential,
	// dom_only or visual_first. Default: "smart_sequential".
	ExecutionStrategy string `yaml:"execution-strategy" json:"execution-strategy"`

	// MaxConcurrentRequests limits simultaneous resolutions served by the API.
	MaxConcurrentRequests int `yaml:"max-concurrent-requests" json:"max-concurrent-requests"`
}

// CacheConfig selects and sizes the selector cache backend.
type CacheConfig struct {
	Type              string `yaml:"type" json:"type"`
	MaximumSize       int    `yaml:"maximum-size" json:"maximum-size"`
	ExpireAfterWrite  string `yaml:"expire-after-write" json:"expire-after-write"`
	ExpireAfterAccess string `yaml:"expire-after-access" json:"expire-after-access"`

	// Directory holds the file backend's snapshot. Empty means <state-dir>/cache.
	Directory string `yaml:"directory" json:"directory"`

	SQLDriver string `yaml:"sql-driver" json:"sql-driver"`
	SQLDSN    string `yaml:"sql-dsn" json:"sql-dsn"`

	// Watch reloads the file snapshot when another process rewrites it.
	Watch bool `yaml:"watch" json:"watch"`
}

// ResilienceConfig configures the circuit breaker and retry policy around AI calls.
type ResilienceConfig struct {
	CircuitBreakerFailureThreshold int    `yaml:"circuit-breaker-failure-threshold" json:"circuit-breaker-failure-threshold"`
	CircuitBreakerTimeout          string `yaml:"circuit-breaker-timeout" json:"circuit-breaker-timeout"`
	RetryMaxAttempts               int    `yaml:"retry-max-attempts" json:"retry-max-attempts"`
	RetryDelay                     string `yaml:"retry-delay" json:"retry-delay"`
	RetryMaxDelay                  string `yaml:"retry-max-delay" json:"retry-max-delay"`
}

// AIConfig configures the AI provider.
type AIConfig struct {
	// Provider is "openai-compatible" or "mock".
	Provider string `yaml:"provider" json:"provider"`

	BaseURL string `yaml:"base-url" json:"base-url"`
	APIKey  string `yaml:"api-key" json:"-"`
	Model   string `yaml:"model" json:"model"`

	MaxTokens   int     `yaml:"max-tokens" json:"max-tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// RequestTimeout bounds a single provider call. Default: "30s".
	RequestTimeout string `yaml:"request-timeout" json:"request-timeout"`

	VisualAnalysisEnabled bool `yaml:"visual-analysis-enabled" json:"visual-analysis-enabled"`

	// MaxHTMLTokens truncates page source before DOM analysis.
	MaxHTMLTokens int `yaml:"max-html-tokens" json:"max-html-tokens"`
}

// LocatorConfig holds per-request defaults.
type LocatorConfig struct {
	// Timeout bounds each page lookup. Default: "10s".
	Timeout              string  `yaml:"timeout" json:"timeout"`
	EnableCaching        bool    `yaml:"enable-caching" json:"enable-caching"`
	EnableVisualAnalysis bool    `yaml:"enable-visual-analysis" json:"enable-visual-analysis"`
	ConfidenceThreshold  float64 `yaml:"confidence-threshold" json:"confidence-threshold"`
	MaxCandidates        int     `yaml:"max-candidates" json:"max-candidates"`
}

// APIConfig configures the management API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`

	// AllowRemote opens the /v0/management routes to non-loopback clients.
	AllowRemote bool `yaml:"allow-remote" json:"allow-remote"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		LogsMaxSizeMB: 10,
		Performance: PerformanceConfig{
			QuickCheckTimeout:     "500ms",
			ElementTimeout:        "10s",
			ExecutionStrategy:     string(types.ExecutionSmartSequential),
			MaxConcurrentRequests: 50,
		},
		Cache: CacheConfig{
			Type:              string(cache.TypeMemory),
			MaximumSize:       10000,
			ExpireAfterWrite:  "24h",
			ExpireAfterAccess: "2h",
			SQLDriver:         "sqlite3",
		},
		Resilience: ResilienceConfig{
			CircuitBreakerFailureThreshold: 5,
			CircuitBreakerTimeout:          "5m",
			RetryMaxAttempts:               3,
			RetryDelay:                     "1s",
			RetryMaxDelay:                  "30s",
		},
		AI: AIConfig{
			Provider:              ProviderOpenAICompatible,
			BaseURL:               "https://api.openai.com/v1",
			Model:                 "gpt-4o-mini",
			MaxTokens:             2000,
			Temperature:           0.1,
			RequestTimeout:        "30s",
			VisualAnalysisEnabled: true,
			MaxHTMLTokens:         12000,
		},
		Locator: LocatorConfig{
			Timeout:              "10s",
			EnableCaching:        true,
			EnableVisualAnalysis: true,
			ConfidenceThreshold:  0.7,
			MaxCandidates:        5,
		},
		API: APIConfig{
			Port: DefaultPort,
		},
	}
}

// LoadConfig reads YAML from configFile, applies environment overrides and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, the defaults are used.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configFile)
	if err != nil {
		if !optional || !(os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		// Defaults are set before unmarshal so that absent keys keep them.
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.Sanitize()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML bytes on top of the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with AUTOHEAL_* environment variables.
// OPENAI_API_KEY is honoured when AUTOHEAL_API_KEY is unset.
func (cfg *Config) ApplyEnv() {
	if cfg == nil {
		return
	}
	if v, ok := lookupEnv(EnvAPIKey, "OPENAI_API_KEY"); ok {
		cfg.AI.APIKey = v
	}
	if v, ok := lookupEnv(EnvBaseURL); ok {
		cfg.AI.BaseURL = v
	}
	if v, ok := lookupEnv(EnvModel); ok {
		cfg.AI.Model = v
	}
	if v, ok := lookupEnv(EnvCacheDir); ok {
		cfg.Cache.Directory = v
	}
	if v, ok := lookupEnv(EnvStateDir); ok {
		cfg.StateDir = v
	}
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// Sanitize normalizes free-form values in place.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	cfg.Cache.Type = strings.ToLower(strings.TrimSpace(cfg.Cache.Type))
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = string(cache.TypeMemory)
	}
	cfg.Cache.SQLDriver = strings.ToLower(strings.TrimSpace(cfg.Cache.SQLDriver))
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderOpenAICompatible
	}
	cfg.AI.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.AI.BaseURL), "/")
	cfg.API.Host = strings.TrimSpace(cfg.API.Host)
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultPort
	}
	if cfg.LogsMaxSizeMB < 0 {
		cfg.LogsMaxSizeMB = 0
	}
	// The AI switch and the per-request switch both gate visual analysis.
	if !cfg.AI.VisualAnalysisEnabled {
		cfg.Locator.EnableVisualAnalysis = false
	}
}

// Validate reports the first invalid setting as a *types.ConfigurationError.
func (cfg *Config) Validate() error {
	durations := []struct {
		field string
		value string
	}{
		{"performance.quick-check-timeout", cfg.Performance.QuickCheckTimeout},
		{"performance.element-timeout", cfg.Performance.ElementTimeout},
		{"resilience.circuit-breaker-timeout", cfg.Resilience.CircuitBreakerTimeout},
		{"resilience.retry-delay", cfg.Resilience.RetryDelay},
		{"resilience.retry-max-delay", cfg.Resilience.RetryMaxDelay},
		{"ai.request-timeout", cfg.AI.RequestTimeout},
		{"locator.timeout", cfg.Locator.Timeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return types.NewConfigurationError(d.field, fmt.Sprintf("invalid duration %q", d.value))
		}
		if v <= 0 {
			return types.NewConfigurationError(d.field, "must be positive")
		}
	}
	for _, d := range []struct{ field, value string }{
		{"cache.expire-after-write", cfg.Cache.ExpireAfterWrite},
		{"cache.expire-after-access", cfg.Cache.ExpireAfterAccess},
	} {
		// Zero disables the deadline.
		if v, err := time.ParseDuration(d.value); err != nil || v < 0 {
			return types.NewConfigurationError(d.field, fmt.Sprintf("invalid duration %q", d.value))
		}
	}

	if _, err := cfg.ExecutionStrategy(); err != nil {
		return err
	}
	if cfg.Performance.MaxConcurrentRequests < 1 {
		return types.NewConfigurationError("performance.max-concurrent-requests", "must be positive")
	}
	if err := cfg.CacheSettings().Validate(); err != nil {
		return err
	}
	if cfg.Resilience.CircuitBreakerFailureThreshold < 1 {
		return types.NewConfigurationError("resilience.circuit-breaker-failure-threshold", "must be positive")
	}
	if cfg.Resilience.RetryMaxAttempts < 1 {
		return types.NewConfigurationError("resilience.retry-max-attempts", "must be positive")
	}
	switch cfg.AI.Provider {
	case ProviderOpenAICompatible:
		if cfg.AI.BaseURL == "" {
			return types.NewConfigurationError("ai.base-url", "required for the openai-compatible provider")
		}
		if cfg.AI.Model == "" {
			return types.NewConfigurationError("ai.model", "required for the openai-compatible provider")
		}
	case ProviderMock:
	default:
		return types.NewConfigurationError("ai.provider", fmt.Sprintf("unknown provider %q", cfg.AI.Provider))
	}
	if cfg.AI.MaxTokens < 1 {
		return types.NewConfigurationError("ai.max-tokens", "must be positive")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return types.NewConfigurationError("ai.temperature", "must be within [0, 2]")
	}
	if cfg.AI.MaxHTMLTokens < 0 {
		return types.NewConfigurationError("ai.max-html-tokens", "must not be negative")
	}
	if err := cfg.LocatorOptions().Validate(); err != nil {
		return err
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return types.NewConfigurationError("api.port", fmt.Sprintf("out of range: %d", cfg.API.Port))
	}
	return nil
}

// HasAPIKey reports whether the AI provider has credentials configured.
func (cfg *Config) HasAPIKey() bool {
	return cfg != nil && strings.TrimSpace(cfg.AI.APIKey) != ""
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
