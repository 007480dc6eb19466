package secretstore_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhaseeb85/jenkins-genie/config"
	"github.com/uhaseeb85/jenkins-genie/secretstore"
)

func newLogger(buf *bytes.Buffer, known []string) *slog.Logger {
	inner := slog.NewTextHandler(buf, &slog.HandlerOptions{})
	return slog.New(secretstore.NewRedactingHandler(inner, known))
}

func TestRedactingHandler_ScrubsKnownSecretInMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, []string{"sk-super-secret-value"})

	logger.Info("calling provider with token sk-super-secret-value")

	out := buf.String()
	assert.NotContains(t, out, "sk-super-secret-value")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactingHandler_ScrubsKnownSecretInAttrValue(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, []string{"whsec_abcdef"})

	logger.Info("webhook received", slog.String("secret", "whsec_abcdef"))

	out := buf.String()
	assert.NotContains(t, out, "whsec_abcdef")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactingHandler_ScrubsTokenShapedSubstringEvenWhenUnknown(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, nil)

	logger.Info("request failed", slog.String("header", "Authorization: Bearer abcdefghijklmnop"))

	out := buf.String()
	assert.NotContains(t, out, "abcdefghijklmnop")
}

func TestRedactingHandler_LeavesNonSecretAttrsUntouched(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, []string{"topsecret"})

	logger.Info("stage advanced", slog.String("build_id", "build-1"), slog.Int("attempt", 2))

	out := buf.String()
	assert.Contains(t, out, "build-1")
	assert.Contains(t, out, "attempt=2")
}

func TestRedactingHandler_WithAttrsRedactsBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{})
	h := secretstore.NewRedactingHandler(inner, []string{"topsecret"})

	bound := h.WithAttrs([]slog.Attr{slog.String("token", "topsecret")})
	logger := slog.New(bound)
	logger.Info("bound")

	assert.NotContains(t, buf.String(), "topsecret")
}

func TestRedactingHandler_EnabledDelegatesToInner(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := secretstore.NewRedactingHandler(inner, nil)

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestFromConfig_ExtractsAllThreeSecrets(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.APIKey = "llm-key"
	cfg.Provider.Token = "provider-token"
	cfg.Webhook.Secret = "webhook-secret"

	s := secretstore.FromConfig(cfg)
	require.Equal(t, "llm-key", s.LLMAPIKey)
	require.Equal(t, "provider-token", s.ProviderToken)
	require.Equal(t, "webhook-secret", s.WebhookSecret)
	assert.ElementsMatch(t, []string{"llm-key", "provider-token", "webhook-secret"}, s.Values())
}

func TestSecrets_ValuesOmitsEmptyFields(t *testing.T) {
	s := secretstore.Secrets{LLMAPIKey: "only-this-one"}
	assert.Equal(t, []string{"only-this-one"}, s.Values())
}
