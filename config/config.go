// Package config loads and validates the engine's runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration, composed of the sections
// described in the external interfaces: LLM client, hosting provider,
// webhook ingress, persistence, working directory, and orchestrator.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Provider     ProviderConfig     `yaml:"provider"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Database     DatabaseConfig     `yaml:"database"`
	WorkDir      WorkDirConfig      `yaml:"workdir"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// LLMConfig configures the LLM wire client.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Provider selects the wire protocol adapter ("openai" or "anthropic").
	// Defaults to "openai", which also serves any OpenAI-compatible
	// self-hosted endpoint reachable via BaseURL.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// ProviderConfig configures the hosting-provider REST client.
type ProviderConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// WebhookConfig configures webhook ingress signature validation.
type WebhookConfig struct {
	SignatureValidationEnabled bool   `yaml:"signature_validation_enabled"`
	Secret                     string `yaml:"secret"`
}

// DatabaseConfig configures the relational task store connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// WorkDirConfig configures per-Build working-directory placement and cleanup.
type WorkDirConfig struct {
	Root          string        `yaml:"root"`
	RetentionDays int           `yaml:"retention_days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// OrchestratorConfig configures worker concurrency and retry policy.
type OrchestratorConfig struct {
	MaxConcurrentTasks int  `yaml:"max_concurrent_tasks"`
	TaskMaxAttempts    int  `yaml:"task_max_attempts"`
	ValidationEnabled  bool `yaml:"validation_enabled"`
}

// DefaultConfig returns a Config populated with the reference defaults named
// in the external interfaces (retention window, worker count, attempt
// ceiling).
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
			Temperature: 0.1,
		},
		Webhook: WebhookConfig{
			SignatureValidationEnabled: false,
		},
		WorkDir: WorkDirConfig{
			Root:          "/var/lib/ci-fix/work",
			RetentionDays: 7,
			SweepInterval: 1 * time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks: 2,
			TaskMaxAttempts:    3,
			ValidationEnabled:  true,
		},
	}
}

// Validate checks that the configuration has every setting required to run
// the pipeline end to end.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url (LLM_API_BASE_URL) is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model (LLM_API_MODEL) is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens (LLM_API_MAX_TOKENS) must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url (PROVIDER_API_BASE_URL) is required")
	}
	if c.Webhook.SignatureValidationEnabled && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret (WEBHOOK_SECRET) is required when signature validation is enabled")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (DATABASE_URL) is required")
	}
	if c.WorkDir.Root == "" {
		return fmt.Errorf("workdir.root (WORK_DIR) is required")
	}
	if c.WorkDir.RetentionDays <= 0 {
		return fmt.Errorf("workdir.retention_days (WORK_DIR_RETENTION_DAYS) must be positive")
	}
	if c.Orchestrator.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent_tasks (ORCHESTRATOR_MAX_CONCURRENT_TASKS) must be positive")
	}
	if c.Orchestrator.TaskMaxAttempts <= 0 {
		return fmt.Errorf("orchestrator.task_max_attempts (TASK_MAX_ATTEMPTS) must be positive")
	}
	return nil
}

// LoadFromFile loads a YAML defaults overlay. Returned value has not been
// validated; callers merge it beneath environment-sourced settings.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Merge overlays non-zero fields from other onto c (other takes precedence).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.Provider.Token != "" {
		c.Provider.Token = other.Provider.Token
	}
	if other.Provider.BaseURL != "" {
		c.Provider.BaseURL = other.Provider.BaseURL
	}
	if other.Webhook.Secret != "" {
		c.Webhook.Secret = other.Webhook.Secret
	}
	if other.Webhook.SignatureValidationEnabled {
		c.Webhook.SignatureValidationEnabled = true
	}
	if other.Database.URL != "" {
		c.Database.URL = other.Database.URL
	}
	if other.WorkDir.Root != "" {
		c.WorkDir.Root = other.WorkDir.Root
	}
	if other.WorkDir.RetentionDays != 0 {
		c.WorkDir.RetentionDays = other.WorkDir.RetentionDays
	}
	if other.WorkDir.SweepInterval != 0 {
		c.WorkDir.SweepInterval = other.WorkDir.SweepInterval
	}
	if other.Orchestrator.MaxConcurrentTasks != 0 {
		c.Orchestrator.MaxConcurrentTasks = other.Orchestrator.MaxConcurrentTasks
	}
	if other.Orchestrator.TaskMaxAttempts != 0 {
		c.Orchestrator.TaskMaxAttempts = other.Orchestrator.TaskMaxAttempts
	}
}
