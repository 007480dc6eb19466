// Package gitdriver clones, checks out, branches, commits, and pushes a
// Build's working directory. It shells out to the system git binary, the
// same idiom used throughout the example corpus for git operations — no
// library in the corpus wraps git itself.
package gitdriver

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
)

// allowedProtocols are the git URL protocols permitted for cloning.
var allowedProtocols = map[string]bool{
	"https": true,
	"git":   true,
	"ssh":   true,
}

// validateGitURL rejects URLs using a disallowed protocol.
func validateGitURL(rawURL string) error {
	if strings.HasPrefix(rawURL, "git@") {
		return nil // SSH shorthand
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !allowedProtocols[scheme] {
		return fmt.Errorf("protocol %q not allowed; must be https, git, or ssh", scheme)
	}
	return nil
}

// Driver performs git operations against per-Build working directories.
type Driver struct{}

// NewDriver creates a git driver.
func NewDriver() *Driver {
	return &Driver{}
}

// CloneOrUpdate clones repoURL at commitSHA into dir. If dir already holds a
// git repository, it fetches and checks out commitSHA instead of cloning.
// A failed checkout returns an error naming the commit; that error carries
// no retryable/non-retryable classification and is not distinguished from
// other git failures.
func (d *Driver) CloneOrUpdate(ctx context.Context, repoURL, commitSHA, dir string) error {
	if err := validateGitURL(repoURL); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	if d.isGitRepo(dir) {
		if _, err := d.runGitIn(ctx, dir, "fetch", "--all"); err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
	} else {
		if _, err := d.runGit(ctx, filepath.Dir(dir), "clone", repoURL, dir); err != nil {
			return fmt.Errorf("clone: %w", err)
		}
	}

	if _, err := d.runGitIn(ctx, dir, "checkout", commitSHA); err != nil {
		return fmt.Errorf("commit %s could not be resolved: %w", commitSHA, err)
	}
	return nil
}

// CreateBranch creates and checks out a new branch from the current HEAD.
// If the branch already exists, it is checked out instead (idempotent, so a
// reaper-restarted CODE_FIX stage can run again safely).
func (d *Driver) CreateBranch(ctx context.Context, dir, name string) error {
	if d.branchExists(ctx, dir, name) {
		_, err := d.runGitIn(ctx, dir, "checkout", name)
		return err
	}
	_, err := d.runGitIn(ctx, dir, "checkout", "-b", name)
	return err
}

// StageAll stages every change in the working tree (git add -A), including
// untracked files and deletions.
func (d *Driver) StageAll(ctx context.Context, dir string) error {
	_, err := d.runGitIn(ctx, dir, "add", "-A")
	return err
}

// HasStagedChanges reports whether there is anything staged to commit.
func (d *Driver) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	out, err := d.runGitIn(ctx, dir, "diff", "--cached", "--name-only")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit creates a commit with the given message and returns its short hash.
func (d *Driver) Commit(ctx context.Context, dir, message string) (string, error) {
	if _, err := d.runGitIn(ctx, dir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit failed: %w", err)
	}
	hash, err := d.runGitIn(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// Push pushes branch to remote, creating the upstream ref if it doesn't
// already exist.
func (d *Driver) Push(ctx context.Context, dir, remote, branch string) error {
	_, err := d.runGitIn(ctx, dir, "push", "-u", remote, branch)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

func (d *Driver) runGit(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}

func (d *Driver) runGitIn(ctx context.Context, dir string, args ...string) (string, error) {
	return d.runGit(ctx, dir, args...)
}

func (d *Driver) isGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

func (d *Driver) branchExists(ctx context.Context, dir, name string) bool {
	_, err := d.runGitIn(ctx, dir, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}
