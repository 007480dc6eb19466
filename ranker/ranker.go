// Package ranker scores candidate files by relevance to a classified build
// failure, combining four bounded sub-scores into one composite used to
// pick which files the CODE_FIX stage hands to the LLM.
package ranker

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// kSem bounds the denominator of sem(f) so a handful of error tokens
// cannot make every file in a large repo score near 1.0.
const kSem = 8

// Weights controls how the four sub-scores combine into score(f).
type Weights struct {
	Sem  float64
	Dep  float64
	Arch float64
	Hist float64
}

// JavaProfileWeights is the reference weighting for the Java/Spring Boot
// profile.
var JavaProfileWeights = Weights{Sem: 0.30, Dep: 0.25, Arch: 0.25, Hist: 0.20}

// Candidate is one file under consideration, along with whatever the
// project analyzer already knows about it.
type Candidate struct {
	Path        string
	Content     string
	Annotations []string // from project.Context.AnnotationIndex, nil if none
	IsBuildFile bool      // pom.xml, build.gradle, build.gradle.kts
	IsGenerated bool      // under a generated-sources directory
}

// FixHistoryEntry records a past fix touching Path, DaysSince its commit.
type FixHistoryEntry struct {
	Path     string
	DaysSince float64
}

// ClassificationKind narrows arch(f) without importing the classifier
// package's full Classification type, keeping ranker usable against any
// taxonomy that carries a kind and an implicated class name.
type ClassificationKind string

const (
	KindCompilation      ClassificationKind = "compilation"
	KindDependency       ClassificationKind = "dependency"
	KindFrameworkContext ClassificationKind = "framework_context"
	KindTestFailure      ClassificationKind = "test_failure"
	KindUnknown          ClassificationKind = "unknown"
)

// Context is what the ranker needs from the classified failure: the
// distinct tokens to search for (sem), the symbols it directly implicates
// (dep anchors), and its kind (arch).
type Context struct {
	ErrorTokens []string
	Anchors     []string
	Kind        ClassificationKind
}

// Scored is one candidate's computed score, kept for persistence as a
// CandidateFile row.
type Scored struct {
	Path   string
	Score  float64
	Sem    float64
	Dep    float64
	Arch   float64
	Hist   float64
	Reason string
}

// Ranker scores and selects candidate files.
type Ranker struct {
	Weights Weights
}

// NewRanker creates a Ranker with the given sub-score weights.
func NewRanker(w Weights) *Ranker {
	return &Ranker{Weights: w}
}

// Rank scores every candidate and returns them sorted by descending score,
// tie-broken by shorter path then lexicographic order. It does not apply
// the threshold/top-N selection — call Select for that.
func (r *Ranker) Rank(ctx Context, candidates []Candidate, history []FixHistoryEntry) []Scored {
	histByPath := make(map[string][]float64)
	for _, h := range history {
		histByPath[h.Path] = append(histByPath[h.Path], h.DaysSince)
	}

	classNames := make(map[string]string, len(candidates)) // path -> className
	imports := make(map[string][]string, len(candidates))  // path -> imported class names
	for _, c := range candidates {
		classNames[c.Path] = classNameFromPath(c.Path)
		imports[c.Path] = topOfFileImports(c.Content)
	}

	results := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		sem := semScore(ctx.ErrorTokens, c.Content)
		dep := depScore(ctx.Anchors, c.Path, classNames, imports)
		arch := archScore(c, ctx.Kind)
		hist := histScore(histByPath[c.Path])

		score := r.Weights.Sem*sem + r.Weights.Dep*dep + r.Weights.Arch*arch + r.Weights.Hist*hist
		score = clamp01(score)

		results = append(results, Scored{
			Path:   c.Path,
			Score:  score,
			Sem:    sem,
			Dep:    dep,
			Arch:   arch,
			Hist:   hist,
			Reason: fmt.Sprintf("sem=%.2f dep=%.2f arch=%.2f hist=%.2f", sem, dep, arch, hist),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if len(results[i].Path) != len(results[j].Path) {
			return len(results[i].Path) < len(results[j].Path)
		}
		return results[i].Path < results[j].Path
	})
	return results
}

// Selection is the outcome of applying the discard-threshold/top-N/fallback
// policy to a ranked list.
type Selection struct {
	Files      []Scored
	Confidence float64
	Fallback   bool // true if the sem-only fallback path was used
}

// Select applies the selection policy: discard score<0.05, keep the top n,
// and if nothing survives the threshold, fall back to the top fallbackK by
// sem(f) alone.
func Select(ranked []Scored, n, fallbackK int) Selection {
	var survivors []Scored
	for _, s := range ranked {
		if s.Score >= 0.05 {
			survivors = append(survivors, s)
		}
	}

	if len(survivors) == 0 {
		bySem := make([]Scored, len(ranked))
		copy(bySem, ranked)
		sort.SliceStable(bySem, func(i, j int) bool {
			if bySem[i].Sem != bySem[j].Sem {
				return bySem[i].Sem > bySem[j].Sem
			}
			if len(bySem[i].Path) != len(bySem[j].Path) {
				return len(bySem[i].Path) < len(bySem[j].Path)
			}
			return bySem[i].Path < bySem[j].Path
		})
		if len(bySem) > fallbackK {
			bySem = bySem[:fallbackK]
		}
		return Selection{Files: bySem, Confidence: confidenceOf(bySem, 0), Fallback: true}
	}

	next := 0.0
	if len(survivors) > n {
		next = survivors[n].Score
		survivors = survivors[:n]
	}
	return Selection{Files: survivors, Confidence: confidenceOf(survivors, next), Fallback: false}
}

// confidenceOf is score(last selected) minus next, the score of the
// next-best survivor not selected, or score(last) - 0 if nothing else remains.
func confidenceOf(selected []Scored, next float64) float64 {
	if len(selected) == 0 {
		return 0
	}
	last := selected[len(selected)-1].Score
	return last - next
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// semScore is the fraction of distinct error tokens found (as whole words,
// case-insensitively) in content, normalized against min(distinct tokens,
// kSem).
func semScore(errorTokens []string, content string) float64 {
	distinct := dedupeLower(errorTokens)
	if len(distinct) == 0 {
		return 0
	}
	lowerContent := strings.ToLower(content)

	matches := 0
	for _, tok := range distinct {
		if tok == "" {
			continue
		}
		if wordPresent(lowerContent, tok) {
			matches++
		}
	}

	denom := len(distinct)
	if denom > kSem {
		denom = kSem
	}
	return clamp01(float64(matches) / float64(denom))
}

func wordPresent(lowerContent, token string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`)
	return re.MatchString(lowerContent)
}

func dedupeLower(tokens []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokens {
		lt := strings.ToLower(strings.TrimSpace(t))
		if lt == "" || seen[lt] {
			continue
		}
		seen[lt] = true
		out = append(out, lt)
	}
	return out
}

// depScore classifies a candidate's distance from the anchor symbols the
// classification directly implicates: 1.0 if the candidate IS an anchor or
// directly imports/is named as one, 0.6 if it reaches an anchor through one
// other candidate's imports, 0.0 otherwise.
func depScore(anchors []string, path string, classNames map[string]string, imports map[string][]string) float64 {
	if len(anchors) == 0 {
		return 0
	}
	anchorSet := make(map[string]bool, len(anchors))
	for _, a := range anchors {
		anchorSet[simpleNameOf(a)] = true
	}

	className := classNames[path]
	if anchorSet[simpleNameOf(className)] {
		return 1.0
	}
	for _, imp := range imports[path] {
		if anchorSet[simpleNameOf(imp)] {
			return 1.0
		}
	}

	for _, imp := range imports[path] {
		for otherPath, otherClass := range classNames {
			if otherPath == path || simpleNameOf(otherClass) != simpleNameOf(imp) {
				continue
			}
			for _, imp2 := range imports[otherPath] {
				if anchorSet[simpleNameOf(imp2)] {
					return 0.6
				}
			}
		}
	}
	return 0.0
}

func simpleNameOf(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

var mavenTestDirPattern = regexp.MustCompile(`(^|/)src/test/`)

// archScore applies the table-driven role score: build descriptor plus a
// dependency classification dominates, then framework-identity annotations,
// then test classes (weighted by whether a test actually failed), then a
// flat floor for plain utility/DTO code, and zero for generated sources.
func archScore(c Candidate, kind ClassificationKind) float64 {
	if c.IsGenerated {
		return 0.0
	}
	if c.IsBuildFile && kind == KindDependency {
		return 1.0
	}

	isTest := mavenTestDirPattern.MatchString(c.Path) || strings.HasSuffix(c.Path, "Test.java")
	if isTest {
		if kind == KindTestFailure {
			return 0.9
		}
		return 0.3
	}

	for _, a := range c.Annotations {
		switch a {
		case "Configuration", "SpringBootApplication":
			return 0.9
		case "Service", "Repository":
			return 0.8
		case "Controller", "RestController":
			return 0.7
		}
	}

	return 0.3
}

// histScore sums exp(-0.01*daysSince) across a file's fix history and
// clamps to [0,1]. Callers that do not track fix history pass a nil slice,
// yielding 0 for every candidate — an allowed zero weight per spec.
func histScore(daysSinceEntries []float64) float64 {
	if len(daysSinceEntries) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range daysSinceEntries {
		sum += math.Exp(-0.01 * d)
	}
	return clamp01(sum)
}

var (
	importPattern  = regexp.MustCompile(`^\s*import\s+(?:static\s+)?([\w.]+)(?:\.\*)?\s*;`)
	packagePattern = regexp.MustCompile(`^\s*package\s+([\w.]+)\s*;`)
)

// topOfFileImports returns the fully-qualified import targets declared
// before the first non-package/import/comment/blank line.
func topOfFileImports(content string) []string {
	var imports []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "*") {
			continue
		}
		if packagePattern.MatchString(trimmed) {
			continue
		}
		if m := importPattern.FindStringSubmatch(trimmed); m != nil {
			imports = append(imports, m[1])
			continue
		}
		break
	}
	return imports
}

// classNameFromPath derives a fully-qualified class name from a
// conventional Maven/Gradle source path.
func classNameFromPath(path string) string {
	trimmed := path
	for _, root := range []string{"src/main/java/", "src/test/java/"} {
		if i := strings.Index(trimmed, root); i >= 0 {
			trimmed = trimmed[i+len(root):]
			break
		}
	}
	trimmed = strings.TrimSuffix(trimmed, ".java")
	return strings.ReplaceAll(trimmed, "/", ".")
}
