package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func clearWebhookEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_API_BASE_URL", "LLM_API_KEY", "LLM_API_PROVIDER", "LLM_API_MODEL",
		"LLM_API_MAX_TOKENS", "LLM_API_TIMEOUT_SECONDS", "PROVIDER_TOKEN",
		"PROVIDER_API_BASE_URL", "WEBHOOK_SIGNATURE_VALIDATION_ENABLED",
		"WEBHOOK_SECRET", "DATABASE_URL", "WORK_DIR", "WORK_DIR_RETENTION_DAYS",
		"ORCHESTRATOR_MAX_CONCURRENT_TASKS", "TASK_MAX_ATTEMPTS", "VALIDATION_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_EnvOverridesDefaultsAndFile(t *testing.T) {
	clearWebhookEnv(t)
	t.Setenv("LLM_API_BASE_URL", "https://llm.example.com")
	t.Setenv("LLM_API_MODEL", "claude")
	t.Setenv("PROVIDER_API_BASE_URL", "https://api.github.com")
	t.Setenv("DATABASE_URL", "postgres://localhost/ci_fix")
	t.Setenv("LLM_API_MAX_TOKENS", "8192")
	t.Setenv("TASK_MAX_ATTEMPTS", "5")

	l := NewLoader(nil)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "https://llm.example.com", cfg.LLM.BaseURL)
	assert.Equal(t, 8192, cfg.LLM.MaxTokens)
	assert.Equal(t, 5, cfg.Orchestrator.TaskMaxAttempts)
}

func TestLoad_MissingRequiredFieldFailsValidation(t *testing.T) {
	clearWebhookEnv(t)

	l := NewLoader(nil)
	_, err := l.Load()
	require.Error(t, err)
}

func TestLoad_ValidationEnabledFalseOverridesDefaultTrue(t *testing.T) {
	clearWebhookEnv(t)
	t.Setenv("LLM_API_BASE_URL", "https://llm.example.com")
	t.Setenv("LLM_API_MODEL", "claude")
	t.Setenv("PROVIDER_API_BASE_URL", "https://api.github.com")
	t.Setenv("DATABASE_URL", "postgres://localhost/ci_fix")
	t.Setenv("VALIDATION_ENABLED", "false")

	l := NewLoader(nil)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.False(t, cfg.Orchestrator.ValidationEnabled)
}

func TestLoad_OverlayFileIsAppliedBeneathEnv(t *testing.T) {
	clearWebhookEnv(t)
	dir := t.TempDir()
	overlay := filepath.Join(dir, ProjectConfigFile)
	require.NoError(t, os.WriteFile(overlay, []byte("llm:\n  model: overlay-model\n"), 0o644))

	t.Setenv("LLM_API_BASE_URL", "https://llm.example.com")
	t.Setenv("PROVIDER_API_BASE_URL", "https://api.github.com")
	t.Setenv("DATABASE_URL", "postgres://localhost/ci_fix")

	chdir(t, dir)

	l := NewLoader(nil)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "overlay-model", cfg.LLM.Model)
}

func TestEnvInt_InvalidValueIsIgnored(t *testing.T) {
	t.Setenv("TASK_MAX_ATTEMPTS", "not-a-number")
	_, ok := envInt("TASK_MAX_ATTEMPTS")
	assert.False(t, ok)
}

func TestEnvBool_InvalidValueIsIgnored(t *testing.T) {
	t.Setenv("VALIDATION_ENABLED", "not-a-bool")
	_, ok := envBool("VALIDATION_ENABLED")
	assert.False(t, ok)
}
