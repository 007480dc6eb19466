// Package hostprovider is a bearer-token JSON REST client for the hosting
// platform's pull-request surface: creating a pull request and attaching
// labels to it. It does not wrap a CLI and does not touch git directly —
// gitdriver owns push, this package only talks to the REST API afterward.
package hostprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxResponseSize = 2 * 1024 * 1024

// Config configures a Client against a single hosting provider deployment.
type Config struct {
	BaseURL string
	Token   string
}

// Client creates pull requests and attaches labels via the hosting
// provider's REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption { return func(cl *Client) { cl.httpClient = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption { return func(cl *Client) { cl.logger = l } }

// WithMaxRetries bounds the number of retries after the first attempt.
func WithMaxRetries(n uint64) ClientOption { return func(cl *Client) { cl.maxRetries = n } }

// NewClient creates a hosting provider client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PullRequest is the result of creating a hosted pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// RepoRef identifies a repository by owner and name.
type RepoRef struct {
	Owner string
	Name  string
}

// ParseRepoURL extracts owner/name from a clone URL. Returns a FatalError
// if the URL cannot be split into an owner/name pair, matching spec.md's
// non-retryable classification for an unparseable repo URL.
func ParseRepoURL(rawURL string) (RepoRef, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(rawURL), ".git")

	if strings.HasPrefix(trimmed, "git@") {
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			return RepoRef{}, NewFatalError(fmt.Errorf("cannot parse repo URL: %s", rawURL))
		}
		return splitOwnerName(parts[1], rawURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return RepoRef{}, NewFatalError(fmt.Errorf("cannot parse repo URL: %w", err))
	}
	return splitOwnerName(strings.TrimPrefix(u.Path, "/"), rawURL)
}

func splitOwnerName(path, rawURL string) (RepoRef, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, NewFatalError(fmt.Errorf("cannot parse repo URL: %s", rawURL))
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}

// CreatePullRequestInput describes a pull request to open.
type CreatePullRequestInput struct {
	Repo  RepoRef
	Title string
	Body  string
	Head  string
	Base  string
}

// CreatePullRequest opens a pull request from Head onto Base.
func (c *Client) CreatePullRequest(ctx context.Context, in CreatePullRequestInput) (*PullRequest, error) {
	payload := map[string]string{
		"title": in.Title,
		"body":  in.Body,
		"head":  in.Head,
		"base":  in.Base,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode create-pull-request payload: %w", err))
	}

	path := fmt.Sprintf("/repos/%s/%s/pulls", in.Repo.Owner, in.Repo.Name)

	var pr PullRequest
	if err := c.doWithRetry(ctx, http.MethodPost, path, body, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// AddLabels attaches labels to an existing pull request. Callers must log
// and swallow a returned error rather than fail the CREATE_PR stage on it.
func (c *Client) AddLabels(ctx context.Context, repo RepoRef, number int, labels []string) error {
	payload := map[string][]string{"labels": labels}
	body, err := json.Marshal(payload)
	if err != nil {
		return NewFatalError(fmt.Errorf("encode add-labels payload: %w", err))
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", repo.Owner, repo.Name, number)
	return c.doWithRetry(ctx, http.MethodPost, path, body, nil)
}

// doWithRetry issues one request, retrying RetryableErrors with exponential
// backoff computed by backoff.ExponentialBackOff and, when the provider
// sends Retry-After, waiting that long instead of the computed interval.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, out any) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.MaxInterval = 30 * time.Second
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.25
	eb.MaxElapsedTime = 0 // attempt count bounds retries, not elapsed wall time
	eb.Reset()

	var lastErr error
	for attempt := uint64(0); ; attempt++ {
		retryAfter, err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsFatal(err) {
			return err
		}
		if attempt >= c.maxRetries {
			break
		}

		wait := eb.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if retryAfter > 0 {
			wait = retryAfter
		}

		c.logger.Debug("hosting provider request failed, retrying",
			slog.Int("attempt", int(attempt)+1),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("hosting provider request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doOnce performs a single HTTP round trip. When the response is a rate
// limit carrying Retry-After, the parsed duration is returned alongside the
// classified error so the caller can honor it verbatim.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, NewFatalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, NewRetryableError(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, NewRetryableError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return 0, NewFatalError(fmt.Errorf("decode response: %w", err))
			}
		}
		return 0, nil
	}

	classified := classifyStatus(resp.StatusCode, respBody)
	if resp.StatusCode == http.StatusTooManyRequests {
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return d, classified
		}
	}
	return 0, classified
}

// classifyStatus maps an HTTP status to the provider error taxonomy:
// RateLimited/TransientNetwork retry, AuthFailure/NotFound/ValidationReject
// do not.
func classifyStatus(status int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("hosting provider error (status %d): %s", status, bodyStr)

	switch {
	case status == http.StatusTooManyRequests:
		return NewRetryableError(err)
	case status >= 500:
		return NewRetryableError(err)
	default:
		return NewFatalError(err)
	}
}

// parseRetryAfter parses a Retry-After header as either a delta-seconds
// integer or an HTTP-date, returning 0 if absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
