package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ProjectConfigFile is the optional YAML defaults overlay, searched for in
// the current working directory only.
const ProjectConfigFile = "ci-fix.yaml"

// Loader loads configuration with layered precedence: defaults, then an
// optional YAML overlay for local/dev runs, then the environment (§6).
// Environment variables always win.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the final Config: defaults, overlaid by ./ci-fix.yaml if
// present, overlaid by the environment variables enumerated in §6.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if fileCfg, err := LoadFromFile(ProjectConfigFile); err == nil {
		l.logger.Debug("loaded config overlay", slog.String("path", ProjectConfigFile))
		cfg.Merge(fileCfg)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load config overlay", slog.String("path", ProjectConfigFile), slog.String("error", err.Error()))
	}

	cfg.Merge(fromEnv())

	// VALIDATION_ENABLED is a true-by-default flag; it must be applied
	// after Merge since Merge's non-zero-wins rule cannot represent an
	// explicit override to false.
	if v, ok := envBool("VALIDATION_ENABLED"); ok {
		cfg.Orchestrator.ValidationEnabled = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromEnv reads the §6 environment-variable surface into a Config overlay.
// Unset variables leave the corresponding field zero-valued so Merge skips
// them.
func fromEnv() *Config {
	cfg := &Config{}

	cfg.LLM.BaseURL = os.Getenv("LLM_API_BASE_URL")
	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	cfg.LLM.Provider = os.Getenv("LLM_API_PROVIDER")
	cfg.LLM.Model = os.Getenv("LLM_API_MODEL")
	if v, ok := envInt("LLM_API_MAX_TOKENS"); ok {
		cfg.LLM.MaxTokens = v
	}
	if v, ok := envInt("LLM_API_TIMEOUT_SECONDS"); ok {
		cfg.LLM.Timeout = time.Duration(v) * time.Second
	}

	cfg.Provider.Token = os.Getenv("PROVIDER_TOKEN")
	cfg.Provider.BaseURL = os.Getenv("PROVIDER_API_BASE_URL")

	if v, ok := envBool("WEBHOOK_SIGNATURE_VALIDATION_ENABLED"); ok {
		cfg.Webhook.SignatureValidationEnabled = v
	}
	cfg.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")

	cfg.Database.URL = os.Getenv("DATABASE_URL")

	cfg.WorkDir.Root = os.Getenv("WORK_DIR")
	if v, ok := envInt("WORK_DIR_RETENTION_DAYS"); ok {
		cfg.WorkDir.RetentionDays = v
	}

	if v, ok := envInt("ORCHESTRATOR_MAX_CONCURRENT_TASKS"); ok {
		cfg.Orchestrator.MaxConcurrentTasks = v
	}
	if v, ok := envInt("TASK_MAX_ATTEMPTS"); ok {
		cfg.Orchestrator.TaskMaxAttempts = v
	}

	return cfg
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
