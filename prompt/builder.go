// Package prompt assembles the messages sent to the LLM client for one
// candidate file: a role preface with output requirements, the classified
// failure, a project context summary, and the file itself.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/uhaseeb85/jenkins-genie/llm"
)

// MaxFileBytes is the largest file content this package will prompt over.
// A file of exactly this size is included; one byte larger is skipped by
// the caller before ever reaching Build.
const MaxFileBytes = 50 * 1024

// ErrFileTooLarge is returned when FileContent exceeds MaxFileBytes.
var ErrFileTooLarge = errors.New("file exceeds maximum size for prompting")

// Input is everything needed to prompt the LLM about one candidate file.
type Input struct {
	// ErrorSummary is a human-readable rendering of the classified failure
	// (compiler diagnostic, missing dependency, container wiring error, or
	// failing assertion).
	ErrorSummary string

	// ProjectSummary describes the build tool, framework, and module the
	// file belongs to.
	ProjectSummary string

	FilePath    string
	FileContent string

	// RegenerationHint is set on a retry after the LLM returned a
	// malformed diff; empty on the first attempt.
	RegenerationHint string
}

var systemTemplate = template.Must(template.New("system").Parse(strings.TrimSpace(`
You are an automated CI build-fix assistant. You are given a single source
file and the build failure it caused, and you respond with the smallest
unified diff that resolves the failure.

Output requirements:
- Respond with a unified diff only: one or more "@@ ... @@" hunks against
  the file shown below. No prose, no markdown fences, no explanation.
- Change only what is necessary to fix the failure. Do not reformat,
  reorder, or rewrite code you are not fixing.
- Every hunk must apply cleanly against the file content exactly as shown.
`)))

var userTemplate = template.Must(template.New("user").Parse(strings.TrimSpace(`
Build failure:
{{.ErrorSummary}}

Project context:
{{.ProjectSummary}}
{{if .RegenerationHint}}
Your previous response could not be applied: {{.RegenerationHint}}
Produce a corrected unified diff.
{{end}}
File: {{.FilePath}}
` + "```" + `
{{.FileContent}}
` + "```" + `
`)))

// Build renders the system and user messages for one candidate file. It
// returns ErrFileTooLarge if FileContent exceeds MaxFileBytes; callers
// should skip the file rather than call Build in that case, but Build
// re-checks so a bug in the caller's size check cannot leak an oversized
// prompt to the LLM.
func Build(in Input) ([]llm.Message, error) {
	if len(in.FileContent) > MaxFileBytes {
		return nil, fmt.Errorf("%s: %w", in.FilePath, ErrFileTooLarge)
	}

	var sysBuf bytes.Buffer
	if err := systemTemplate.Execute(&sysBuf, in); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	var userBuf bytes.Buffer
	if err := userTemplate.Execute(&userBuf, in); err != nil {
		return nil, fmt.Errorf("render user prompt: %w", err)
	}

	return []llm.Message{
		{Role: "system", Content: sysBuf.String()},
		{Role: "user", Content: userBuf.String()},
	}, nil
}
