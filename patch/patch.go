// Package patch parses and applies unified diffs produced by the LLM
// client. It is deliberately not a general diff engine: context matching is
// strict, there is no fuzzing, and a file either applies cleanly or is
// rolled back to its captured original content untouched.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoHunks is returned when a diff contains no "@@ ... @@" hunk headers.
var ErrNoHunks = errors.New("diff contains no hunks")

// HunkLine is one line of a hunk body. Prefix is ' ' (context), '+'
// (addition), or '-' (deletion); any other prefix is a parse error.
type HunkLine struct {
	Prefix byte
	Text   string
}

// Hunk is one "@@ -origStart,origCount +newStart,newCount @@" block and its
// body. A header with no count defaults that count to 1.
type Hunk struct {
	OrigStart int
	OrigCount int
	NewStart  int
	NewCount  int
	Lines     []HunkLine
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse splits diffText into its hunks. Lines before the first hunk header
// (file headers such as "--- a/Foo.java") are ignored. A diff with zero
// hunks is rejected with ErrNoHunks.
func Parse(diffText string) ([]Hunk, error) {
	lines := strings.Split(diffText, "\n")

	var hunks []Hunk
	var current *Hunk

	for _, line := range lines {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &Hunk{
				OrigStart: atoiDefault(m[1], 0),
				OrigCount: atoiDefault(m[2], 1),
				NewStart:  atoiDefault(m[3], 0),
				NewCount:  atoiDefault(m[4], 1),
			}
			continue
		}

		if line == "" {
			continue
		}
		if current == nil {
			continue // preamble such as "--- a/Foo.java" / "+++ b/Foo.java"
		}

		prefix := line[0]
		if prefix != ' ' && prefix != '+' && prefix != '-' {
			return nil, fmt.Errorf("invalid hunk line prefix %q", string(prefix))
		}
		current.Lines = append(current.Lines, HunkLine{Prefix: prefix, Text: line[1:]})
	}
	if current != nil {
		hunks = append(hunks, *current)
	}

	if len(hunks) == 0 {
		return nil, ErrNoHunks
	}
	return hunks, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Apply applies hunks, in order, against original and returns the result.
// Each hunk's context (' ') and deletion ('-') lines must match the
// original file exactly at the expected position; any mismatch fails the
// whole application with no partial output, so the caller's original file
// is never left half-patched.
func Apply(original string, hunks []Hunk) (string, error) {
	origLines := splitLines(original)
	var out []string
	cursor := 0 // 0-based index into origLines, next unconsumed original line

	for _, h := range hunks {
		start := h.OrigStart - 1
		if start < cursor || start > len(origLines) {
			return "", fmt.Errorf("hunk starting at line %d is out of order or out of range", h.OrigStart)
		}
		out = append(out, origLines[cursor:start]...)
		cursor = start

		for _, hl := range h.Lines {
			switch hl.Prefix {
			case ' ', '-':
				if cursor >= len(origLines) || origLines[cursor] != hl.Text {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				if hl.Prefix == ' ' {
					out = append(out, origLines[cursor])
				}
				cursor++
			case '+':
				out = append(out, hl.Text)
			default:
				return "", fmt.Errorf("invalid hunk line prefix %q", string(hl.Prefix))
			}
		}
	}
	out = append(out, origLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}

// ApplyDiff is a convenience that parses diffText and applies it to
// original in one call.
func ApplyDiff(original, diffText string) (string, error) {
	hunks, err := Parse(diffText)
	if err != nil {
		return "", err
	}
	return Apply(original, hunks)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
