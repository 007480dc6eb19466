// Package ingest accepts a webhook payload describing one failed CI build
// and turns it into a Build row plus the initial PLAN task. It is the core
// half of the webhook boundary described in §6; the HTTP route that reads
// the request body and calls Accept is out of scope.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/uhaseeb85/jenkins-genie/orchestrator"
	"github.com/uhaseeb85/jenkins-genie/store"
)

// ErrInvalidSignature is returned when signature validation is enabled and
// the request's signature header is missing or does not match.
var ErrInvalidSignature = errors.New("webhook signature missing or invalid")

// ErrMalformedPayload is returned when the request body is not valid JSON
// or is missing a field required to create a Build.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// payload is the wire shape of the webhook body: §6's
// {job, buildNumber, branch, repoUrl, commitSha, logs (base64), status, timestamp}.
type payload struct {
	Job         string `json:"job"`
	BuildNumber int    `json:"buildNumber"`
	Branch      string `json:"branch"`
	RepoURL     string `json:"repoUrl"`
	CommitSHA   string `json:"commitSha"`
	Logs        string `json:"logs"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// Result is returned by Accept on success.
type Result struct {
	BuildID string
	Created bool // false when an existing Build for (job, buildNumber) was reused
}

// Ingestor validates and accepts webhook deliveries, creating the Build and
// initial PLAN task that start the pipeline.
type Ingestor struct {
	store             *store.Store
	orch              *orchestrator.Orchestrator
	signatureRequired bool
	secret            []byte
	logger            *slog.Logger
}

// Config configures signature validation. SignatureRequired mirrors
// WEBHOOK_SIGNATURE_VALIDATION_ENABLED; Secret mirrors WEBHOOK_SECRET.
type Config struct {
	SignatureRequired bool
	Secret            string
}

// New creates an Ingestor. logger may be nil, in which case slog.Default is used.
func New(st *store.Store, orch *orchestrator.Orchestrator, cfg Config, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:             st,
		orch:              orch,
		signatureRequired: cfg.SignatureRequired,
		secret:            []byte(cfg.Secret),
		logger:            logger,
	}
}

// VerifySignature checks an `X-*-Signature: sha256=<hex>` header value (the
// part after the colon, e.g. "sha256=abcd...") against an HMAC-SHA256 of
// body computed with the configured secret. When signature validation is
// disabled, VerifySignature always succeeds. header with no "sha256="
// prefix, or a malformed hex digest, is treated as a mismatch rather than
// an error.
func (in *Ingestor) VerifySignature(body []byte, header string) error {
	if !in.signatureRequired {
		return nil
	}
	const prefix = "sha256="
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, in.secret)
	mac.Write(body)
	got := mac.Sum(nil)

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Accept parses body, validates it, and creates the Build and initial PLAN
// task. Signature validation (if enabled) must be performed separately via
// VerifySignature before calling Accept, since Accept only sees the
// already-read body, not the raw request.
//
// A second delivery for the same (job, buildNumber) reuses the existing
// Build rather than creating a duplicate; Created is false in that case and
// no new PLAN task is enqueued (Enqueue's own idempotence would make this a
// no-op anyway, but checking here avoids a redundant decode of logs).
func (in *Ingestor) Accept(ctx context.Context, body []byte) (Result, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	if existing, err := in.store.GetBuildByJobAndNumber(ctx, p.Job, p.BuildNumber); err == nil {
		in.logger.Debug("webhook delivery for existing build", slog.String("build_id", existing.ID),
			slog.String("job", p.Job), slog.Int("build_number", p.BuildNumber))
		return Result{BuildID: existing.ID, Created: false}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("look up existing build: %w", err)
	}

	logs, err := decodeLogs(p.Logs)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if _, err := parseTimestamp(p.Timestamp); err != nil {
		in.logger.Warn("unparseable webhook timestamp, proceeding without it",
			slog.String("timestamp", p.Timestamp), slog.String("error", err.Error()))
	}

	build := &store.Build{
		JobName:     p.Job,
		BuildNumber: p.BuildNumber,
		Branch:      p.Branch,
		RepoURL:     p.RepoURL,
		CommitSHA:   p.CommitSHA,
		Payload:     logs,
	}
	buildID, err := in.store.CreateBuild(ctx, build)
	if err != nil {
		return Result{}, fmt.Errorf("create build: %w", err)
	}

	if _, err := in.orch.Enqueue(ctx, buildID, store.TaskPlan, nil); err != nil {
		return Result{}, fmt.Errorf("enqueue plan task: %w", err)
	}

	in.logger.Info("accepted webhook delivery", slog.String("build_id", buildID),
		slog.String("job", p.Job), slog.Int("build_number", p.BuildNumber), slog.String("status", p.Status))

	return Result{BuildID: buildID, Created: true}, nil
}

func (p payload) validate() error {
	if p.Job == "" {
		return fmt.Errorf("%w: job is required", ErrMalformedPayload)
	}
	if p.BuildNumber <= 0 {
		return fmt.Errorf("%w: buildNumber must be positive", ErrMalformedPayload)
	}
	if p.RepoURL == "" {
		return fmt.Errorf("%w: repoUrl is required", ErrMalformedPayload)
	}
	if p.CommitSHA == "" {
		return fmt.Errorf("%w: commitSha is required", ErrMalformedPayload)
	}
	return nil
}

// decodeLogs base64-decodes the payload's logs field. An empty field
// decodes to an empty (not nil-error) byte slice — some CI integrations
// deliver a status update with no log body.
func decodeLogs(encoded string) ([]byte, error) {
	if encoded == "" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// parseTimestamp accepts any of the layouts dateparse recognizes, since
// different CI systems stamp builds with RFC3339, RFC1123, or a bare
// "YYYY-MM-DD HH:MM:SS". It is used only for logging/diagnostics; no stored
// field currently carries it (Build has no submitted-at column separate
// from created_at).
func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return dateparse.ParseAny(raw)
}
