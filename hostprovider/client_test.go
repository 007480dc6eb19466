package hostprovider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhaseeb85/jenkins-genie/hostprovider"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		url       string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{"https://github.com/owner/repo.git", "owner", "repo", false},
		{"https://github.com/owner/repo", "owner", "repo", false},
		{"git@github.com:owner/repo.git", "owner", "repo", false},
		{"https://github.com/owner", "", "", true},
		{"not a url at all", "", "", true},
	}
	for _, c := range cases {
		ref, err := hostprovider.ParseRepoURL(c.url)
		if c.wantErr {
			assert.Error(t, err, c.url)
			continue
		}
		require.NoError(t, err, c.url)
		assert.Equal(t, c.wantOwner, ref.Owner, c.url)
		assert.Equal(t, c.wantName, ref.Name, c.url)
	}
}

func TestClient_CreatePullRequest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/pulls", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ci-fix/build-1", body["head"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"html_url": "https://github.com/owner/repo/pull/42",
			"state":    "open",
		})
	}))
	defer server.Close()

	client := hostprovider.NewClient(hostprovider.Config{BaseURL: server.URL, Token: "test-token"})

	pr, err := client.CreatePullRequest(context.Background(), hostprovider.CreatePullRequestInput{
		Repo:  hostprovider.RepoRef{Owner: "owner", Name: "repo"},
		Title: "Fix: CI build #1 (abc1234)",
		Body:  "automated fix",
		Head:  "ci-fix/build-1",
		Base:  "main",
	})

	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "https://github.com/owner/repo/pull/42", pr.HTMLURL)
}

func TestClient_CreatePullRequest_FatalNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"a pull request already exists"}`))
	}))
	defer server.Close()

	client := hostprovider.NewClient(hostprovider.Config{BaseURL: server.URL, Token: "t"})

	_, err := client.CreatePullRequest(context.Background(), hostprovider.CreatePullRequestInput{
		Repo: hostprovider.RepoRef{Owner: "owner", Name: "repo"},
		Head: "ci-fix/build-1",
		Base: "main",
	})

	require.Error(t, err)
	assert.True(t, hostprovider.IsFatal(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_CreatePullRequest_RetriesTransient(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"number": 7, "html_url": "https://example.com/pull/7"})
	}))
	defer server.Close()

	client := hostprovider.NewClient(hostprovider.Config{BaseURL: server.URL, Token: "t"}, hostprovider.WithMaxRetries(5))

	pr, err := client.CreatePullRequest(context.Background(), hostprovider.CreatePullRequestInput{
		Repo: hostprovider.RepoRef{Owner: "owner", Name: "repo"},
		Head: "ci-fix/build-1",
		Base: "main",
	})

	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_CreatePullRequest_HonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	start := time.Now()
	var elapsed time.Duration

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		elapsed = time.Since(start)
		json.NewEncoder(w).Encode(map[string]any{"number": 1, "html_url": "https://example.com/pull/1"})
	}))
	defer server.Close()

	client := hostprovider.NewClient(hostprovider.Config{BaseURL: server.URL, Token: "t"})

	_, err := client.CreatePullRequest(context.Background(), hostprovider.CreatePullRequestInput{
		Repo: hostprovider.RepoRef{Owner: "owner", Name: "repo"},
		Head: "ci-fix/build-1",
		Base: "main",
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 950*time.Millisecond)
}

func TestClient_AddLabels_FailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/issues/42/labels", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := hostprovider.NewClient(hostprovider.Config{BaseURL: server.URL, Token: "t"})

	err := client.AddLabels(context.Background(), hostprovider.RepoRef{Owner: "owner", Name: "repo"}, 42, []string{"ci-fix", "automated"})
	require.Error(t, err)
	assert.True(t, hostprovider.IsFatal(err))
}
