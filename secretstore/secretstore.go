// Package secretstore sources the handful of secrets the engine needs from
// the environment and provides a slog.Handler wrapper that redacts them
// from every log record, regardless of call site, per the design note in
// spec.md §9 ("implement once as a logging hook").
package secretstore

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/uhaseeb85/jenkins-genie/config"
)

// Secrets holds the credential material read from the environment: the LLM
// API key, the hosting-provider token, and the webhook HMAC secret. A
// RedactingHandler built from a Secrets value scrubs each of these from
// every log record it handles.
type Secrets struct {
	LLMAPIKey     string
	ProviderToken string
	WebhookSecret string
}

// FromConfig extracts the secret fields a loaded Config already holds
// (itself sourced from the environment by config.Loader), so callers never
// need to re-read LLM_API_KEY/PROVIDER_TOKEN/WEBHOOK_SECRET directly.
func FromConfig(cfg *config.Config) Secrets {
	return Secrets{
		LLMAPIKey:     cfg.LLM.APIKey,
		ProviderToken: cfg.Provider.Token,
		WebhookSecret: cfg.Webhook.Secret,
	}
}

// Values returns the non-empty secret strings, for building a redactor.
func (s Secrets) Values() []string {
	vals := make([]string, 0, 3)
	for _, v := range []string{s.LLMAPIKey, s.ProviderToken, s.WebhookSecret} {
		if v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}

const redactedPlaceholder = "[REDACTED]"

// tokenShapedPattern catches bearer-token and API-key-shaped substrings
// (e.g. "Bearer sk-abc123", "Authorization: Bearer ...") even when the
// literal secret value isn't known in advance, as a defense-in-depth
// complement to the exact-match scan below.
var tokenShapedPattern = regexp.MustCompile(`(?i)(bearer|api[_-]?key|token|secret)\s*[:=]?\s*[A-Za-z0-9_\-\.]{12,}`)

// RedactingHandler wraps an slog.Handler, rewriting every attribute value
// (and the record's message) to scrub known secret literals and
// token-shaped substrings before the wrapped handler writes the record.
type RedactingHandler struct {
	inner slog.Handler
	known []string
}

// NewRedactingHandler wraps inner, redacting the literal values in known
// plus anything matching tokenShapedPattern.
func NewRedactingHandler(inner slog.Handler, known []string) *RedactingHandler {
	return &RedactingHandler{inner: inner, known: known}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, h.redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, redacted)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted), known: h.known}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), known: h.known}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, h.redact(a.Value.String()))
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, ga := range group {
			redacted[i] = h.redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}
	return a
}

func (h *RedactingHandler) redact(s string) string {
	for _, secret := range h.known {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redactedPlaceholder)
	}
	return tokenShapedPattern.ReplaceAllString(s, redactedPlaceholder)
}
