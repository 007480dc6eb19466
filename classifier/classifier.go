// Package classifier turns a raw build log into one typed diagnosis. It is
// pure and deterministic: the same log text always produces the same
// Classification, and it never touches the filesystem or network — the PLAN
// stage calls it directly against the log bytes carried in the webhook
// payload.
package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
)

// maxLogLines bounds how much of the tail of a log is examined. A log of
// exactly maxLogLines is processed in full; one line longer drops its first
// line, keeping only the last maxLogLines.
const maxLogLines = 300

// Kind identifies which branch of Classification is populated.
type Kind string

const (
	KindCompilation      Kind = "compilation"
	KindDependency       Kind = "dependency"
	KindFrameworkContext Kind = "framework_context"
	KindTestFailure      Kind = "test_failure"
	KindUnknown          Kind = "unknown"
)

// FrameworkContextKind narrows a FrameworkContextError to one of the four
// recognized enterprise-container failure modes.
type FrameworkContextKind string

const (
	NoSuchBean         FrameworkContextKind = "no_such_bean"
	AmbiguousBean      FrameworkContextKind = "ambiguous_bean"
	CircularDependency FrameworkContextKind = "circular_dependency"
	MissingAnnotation  FrameworkContextKind = "missing_annotation"
)

// CompilationError identifies a single compiler diagnostic.
type CompilationError struct {
	Path    string
	Line    int
	Column  int
	Symbol  string
	Message string
}

// DependencyError identifies a missing or conflicting build artifact.
type DependencyError struct {
	Artifact string
	Conflict bool // false means missing, true means version conflict
	Message  string
}

// FrameworkContextError identifies a container wiring failure.
type FrameworkContextError struct {
	Identity string // bean or component name/type
	Kind     FrameworkContextKind
	Message  string
}

// TestFailure identifies one failing test method.
type TestFailure struct {
	Class     string
	Method    string
	Assertion string
}

// Unknown carries the raw tail when nothing else matched.
type Unknown struct {
	Tail string
}

// Classification is the result of classifying a log. Exactly one of the
// pointer fields is non-nil, matching Kind.
type Classification struct {
	Kind             Kind
	Timestamp        string // best-effort, parsed from the log tail if present
	Compilation      *CompilationError
	Dependency       *DependencyError
	FrameworkContext *FrameworkContextError
	Test             *TestFailure
	Unknown          *Unknown
}

var (
	// javacInline matches `File.java:42: error: message`.
	javacInline = regexp.MustCompile(`(?m)^(\S+\.java):(\d+):\s+error:\s+(.+)$`)
	// mavenBracketed matches `[ERROR] /path/File.java:[23,15] message`.
	mavenBracketed = regexp.MustCompile(`(?m)\[ERROR\]\s+(\S+\.java):\[(\d+),(\d+)\]\s*(.*)$`)
	// symbolLine matches the continuation line javac emits after "cannot
	// find symbol": `symbol:   variable foo`.
	symbolLine = regexp.MustCompile(`(?m)symbol:\s+\S+\s+(\S+)`)

	mavenDependencyMissing = regexp.MustCompile(`(?m)Could not find artifact ([\w.\-]+:[\w.\-]+:[\w.\-]+(?::[\w.\-]+)?)`)
	mavenDependencyConflict = regexp.MustCompile(`(?m)Could not resolve dependencies for project.*?: (.+)$`)
	gradleDependencyMissing = regexp.MustCompile(`(?m)Could not find ([\w.\-]+:[\w.\-]+:[\w.\-]+)\.$`)

	noSuchBean    = regexp.MustCompile(`NoSuchBeanDefinitionException:\s*(.+)`)
	noSuchBeanType = regexp.MustCompile(`No qualifying bean of type '([^']+)'`)
	ambiguousBean = regexp.MustCompile(`NoUniqueBeanDefinitionException:\s*(.+)`)
	circularBean  = regexp.MustCompile(`Requested bean is currently in creation.*circular reference`)
	circularBeanName = regexp.MustCompile(`Error creating bean with name '([^']+)'`)
	missingAnnotation = regexp.MustCompile(`Consider (?:defining a bean(?: named| of type)?|annotating) '?([\w.\$]+)'?`)

	testFailureLine = regexp.MustCompile(`(?m)^\s*(\S+Test)\.(\w+)(?::\d+)?\s+(.+)$`)
	testFailureJUnit5 = regexp.MustCompile(`(?m)^(\S+Test)\s*>\s*(\w+)\(\)\s+FAILED`)
)

// Classify inspects rawLog and returns its best typed diagnosis. Patterns
// are tried in the order Compilation, Dependency, FrameworkContext,
// TestFailure; the first to match wins. If none match, Unknown carries the
// truncated tail.
func Classify(rawLog string) Classification {
	tail := lastLines(rawLog, maxLogLines)
	ts := extractTimestamp(tail)

	if c := classifyCompilation(tail); c != nil {
		return Classification{Kind: KindCompilation, Timestamp: ts, Compilation: c}
	}
	if d := classifyDependency(tail); d != nil {
		return Classification{Kind: KindDependency, Timestamp: ts, Dependency: d}
	}
	if f := classifyFrameworkContext(tail); f != nil {
		return Classification{Kind: KindFrameworkContext, Timestamp: ts, FrameworkContext: f}
	}
	if t := classifyTestFailure(tail); t != nil {
		return Classification{Kind: KindTestFailure, Timestamp: ts, Test: t}
	}
	return Classification{Kind: KindUnknown, Timestamp: ts, Unknown: &Unknown{Tail: tail}}
}

func classifyCompilation(tail string) *CompilationError {
	if m := mavenBracketed.FindStringSubmatch(tail); m != nil {
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		return &CompilationError{
			Path:    m[1],
			Line:    line,
			Column:  col,
			Symbol:  extractSymbol(tail),
			Message: strings.TrimSpace(m[4]),
		}
	}
	if m := javacInline.FindStringSubmatch(tail); m != nil {
		line, _ := strconv.Atoi(m[2])
		return &CompilationError{
			Path:    m[1],
			Line:    line,
			Symbol:  extractSymbol(tail),
			Message: strings.TrimSpace(m[3]),
		}
	}
	return nil
}

func extractSymbol(tail string) string {
	if m := symbolLine.FindStringSubmatch(tail); m != nil {
		return m[1]
	}
	return ""
}

func classifyDependency(tail string) *DependencyError {
	if m := mavenDependencyMissing.FindStringSubmatch(tail); m != nil {
		return &DependencyError{Artifact: m[1], Conflict: false, Message: strings.TrimSpace(m[0])}
	}
	if m := gradleDependencyMissing.FindStringSubmatch(tail); m != nil {
		return &DependencyError{Artifact: m[1], Conflict: false, Message: strings.TrimSpace(m[0])}
	}
	if m := mavenDependencyConflict.FindStringSubmatch(tail); m != nil {
		return &DependencyError{Artifact: extractArtifactCoord(m[1]), Conflict: true, Message: strings.TrimSpace(m[1])}
	}
	return nil
}

var artifactCoordPattern = regexp.MustCompile(`[\w.\-]+:[\w.\-]+:[\w.\-]+(?::[\w.\-]+)?`)

func extractArtifactCoord(s string) string {
	if m := artifactCoordPattern.FindString(s); m != "" {
		return m
	}
	return s
}

func classifyFrameworkContext(tail string) *FrameworkContextError {
	if m := circularBean.FindString(tail); m != "" {
		identity := ""
		if nm := circularBeanName.FindStringSubmatch(tail); nm != nil {
			identity = nm[1]
		}
		return &FrameworkContextError{Identity: identity, Kind: CircularDependency, Message: m}
	}
	if m := ambiguousBean.FindStringSubmatch(tail); m != nil {
		identity := ""
		if tm := noSuchBeanType.FindStringSubmatch(tail); tm != nil {
			identity = tm[1]
		}
		return &FrameworkContextError{Identity: identity, Kind: AmbiguousBean, Message: strings.TrimSpace(m[1])}
	}
	if m := missingAnnotation.FindStringSubmatch(tail); m != nil {
		return &FrameworkContextError{Identity: m[1], Kind: MissingAnnotation, Message: strings.TrimSpace(m[0])}
	}
	if m := noSuchBean.FindStringSubmatch(tail); m != nil {
		identity := ""
		if tm := noSuchBeanType.FindStringSubmatch(tail); tm != nil {
			identity = tm[1]
		}
		return &FrameworkContextError{Identity: identity, Kind: NoSuchBean, Message: strings.TrimSpace(m[1])}
	}
	return nil
}

func classifyTestFailure(tail string) *TestFailure {
	if m := testFailureLine.FindStringSubmatch(tail); m != nil {
		return &TestFailure{Class: m[1], Method: m[2], Assertion: strings.TrimSpace(m[3])}
	}
	if m := testFailureJUnit5.FindStringSubmatch(tail); m != nil {
		return &TestFailure{Class: m[1], Method: m[2]}
	}
	return nil
}

// extractTimestamp best-effort parses a leading timestamp off the tail's
// first non-empty line, useful for correlating a classification with an
// external log timeline. Returns "" when none is found.
func extractTimestamp(tail string) string {
	var firstLine string
	for _, line := range strings.Split(tail, "\n") {
		if strings.TrimSpace(line) != "" {
			firstLine = line
			break
		}
	}
	if firstLine == "" {
		return ""
	}

	fields := strings.Fields(firstLine)
	for i := len(fields); i > 0; i-- {
		candidate := strings.Join(fields[:i], " ")
		if t, err := dateparse.ParseAny(candidate); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	return ""
}

// lastLines returns the last n lines of s, trimming nothing else. A log of
// exactly n lines passes through unchanged.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
