package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uhaseeb85/jenkins-genie/classifier"
	"github.com/uhaseeb85/jenkins-genie/gitdriver"
	"github.com/uhaseeb85/jenkins-genie/hostprovider"
	"github.com/uhaseeb85/jenkins-genie/llm"
	"github.com/uhaseeb85/jenkins-genie/patch"
	"github.com/uhaseeb85/jenkins-genie/project"
	"github.com/uhaseeb85/jenkins-genie/prompt"
	"github.com/uhaseeb85/jenkins-genie/ranker"
	"github.com/uhaseeb85/jenkins-genie/store"
	"github.com/uhaseeb85/jenkins-genie/validator"
)

// Payload is the single envelope threaded through every stage's Task.Payload.
// Each stage reads the fields it needs and adds the ones the next stage
// needs; nothing here is specific to one pipeline position, so a VALIDATE
// failure can hand the exact same shape back to CODE_FIX as a retry.
type Payload struct {
	Classification classifier.Classification `json:"classification"`

	Language         string   `json:"language,omitempty"`
	BuildTool        string   `json:"build_tool,omitempty"`
	Framework        string   `json:"framework,omitempty"`
	FrameworkVersion string   `json:"framework_version,omitempty"`
	Modules          []string `json:"modules,omitempty"`

	Files []string `json:"files,omitempty"`

	// RegenerationHint carries the previous attempt's failure (a malformed
	// diff, a failed compile, a failed test) into the next CODE_FIX prompt.
	RegenerationHint string `json:"regeneration_hint,omitempty"`

	BranchName string `json:"branch_name,omitempty"`
}

func (p Payload) encode() []byte {
	b, _ := json.Marshal(p)
	return b
}

func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode stage payload: %w", err)
	}
	return p, nil
}

// HandlerConfig holds everything the stage handlers need beyond the store
// and the task itself.
type HandlerConfig struct {
	WorkDirRoot       string // per-build checkouts live under WorkDirRoot/<build id>
	PullRequestLabels []string
	TopN              int
	FallbackK         int
	ValidationTimeout time.Duration
	RankerWeights     ranker.Weights

	// Temperature is passed on every CODE_FIX completion request.
	Temperature float64

	// ValidationEnabled mirrors the orchestrator's own flag of the same
	// name. CodeFix needs it to record a skipped Validation row when the
	// pipeline routes straight from CODE_FIX to CREATE_PR.
	ValidationEnabled bool
}

// Notifier delivers a Build's terminal outcome somewhere outside the
// store — email, Slack, chat ops. Actual delivery is out of scope; this
// interface exists so the seam is wired without implementing a boundary.
type Notifier interface {
	Notify(ctx context.Context, n store.Notification) error
}

// NoopNotifier is the default Notifier: it does nothing, leaving the
// persisted Notification row as the only record of a Build's outcome.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, n store.Notification) error { return nil }

// Handlers wires the stage-specific work against one set of clients. Each
// method matches the Handler signature and is registered against its task
// type by the caller.
type Handlers struct {
	cfg HandlerConfig

	git        *gitdriver.Driver
	llmClient  *llm.Client
	hostClient *hostprovider.Client
	validator  *validator.Validator
	notifier   Notifier

	logger *slog.Logger
}

// NewHandlers builds the stage-handler set. notifier may be nil, in which
// case NoopNotifier is used.
func NewHandlers(cfg HandlerConfig, git *gitdriver.Driver, llmClient *llm.Client, hostClient *hostprovider.Client, notifier Notifier, logger *slog.Logger) *Handlers {
	if cfg.TopN <= 0 {
		cfg.TopN = 8
	}
	if cfg.FallbackK <= 0 {
		cfg.FallbackK = 3
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = 10 * time.Minute
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		cfg:        cfg,
		git:        git,
		llmClient:  llmClient,
		hostClient: hostClient,
		validator:  validator.New(cfg.ValidationTimeout),
		notifier:   notifier,
		logger:     logger,
	}
}

// Register binds every stage method to its task type on o.
func (h *Handlers) Register(o *Orchestrator) {
	o.RegisterHandler(store.TaskPlan, h.Plan)
	o.RegisterHandler(store.TaskRetrieve, h.Retrieve)
	o.RegisterHandler(store.TaskCodeFix, h.CodeFix)
	o.RegisterHandler(store.TaskValidate, h.Validate)
	o.RegisterHandler(store.TaskCreatePR, h.CreatePR)
	o.RegisterHandler(store.TaskNotify, h.Notify)
}

func (h *Handlers) workDir(buildID string) string {
	return filepath.Join(h.cfg.WorkDirRoot, buildID)
}

// Plan classifies the Build's captured log and hands the classification to
// RETRIEVE. Payload is unused on input; PLAN is always the first task for a
// Build, driven entirely by what ingest stored on the Build row.
func (h *Handlers) Plan(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error) {
	build, err := st.GetBuild(ctx, task.BuildID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("load build: %w", err))
	}

	classification := classifier.Classify(string(build.Payload))
	out := Payload{Classification: classification}
	return out.encode(), nil
}

// Retrieve checks out the Build's commit, analyzes the project, ranks
// candidate files against the classified failure, and persists the ranked
// list for CODE_FIX.
func (h *Handlers) Retrieve(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error) {
	in, err := decodePayload(task.Payload)
	if err != nil {
		return nil, Fatal(err)
	}

	build, err := st.GetBuild(ctx, task.BuildID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("load build: %w", err))
	}

	dir := h.workDir(build.ID)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, Fatal(fmt.Errorf("prepare work dir: %w", err))
	}
	if err := h.git.CloneOrUpdate(ctx, build.RepoURL, build.CommitSHA, dir); err != nil {
		return nil, Retryable(fmt.Errorf("checkout: %w", err))
	}
	if err := st.SetBuildWorkingDir(ctx, build.ID, dir); err != nil {
		h.logger.Error("set build working dir", slog.String("build_id", build.ID), slog.String("error", err.Error()))
	}

	analyzer := project.NewAnalyzer()
	projCtx, err := analyzer.Analyze(dir)
	if err != nil {
		return nil, Fatal(fmt.Errorf("analyze project: %w", err))
	}

	candidates, err := h.buildCandidates(dir, projCtx)
	if err != nil {
		return nil, Fatal(fmt.Errorf("enumerate candidates: %w", err))
	}

	rctx := ranker.Context{
		ErrorTokens: errorTokensFor(in.Classification),
		Anchors:     anchorsFor(in.Classification),
		Kind:        rankerKindFor(in.Classification.Kind),
	}
	scored := ranker.NewRanker(h.cfg.RankerWeights).Rank(rctx, candidates, nil)
	selection := ranker.Select(scored, h.cfg.TopN, h.cfg.FallbackK)
	if len(selection.Files) == 0 {
		return nil, Fatal(ErrNoCandidates)
	}

	rows := make([]store.CandidateFile, len(selection.Files))
	files := make([]string, len(selection.Files))
	for i, s := range selection.Files {
		rows[i] = store.CandidateFile{
			BuildID:   build.ID,
			FilePath:  s.Path,
			Score:     s.Score,
			SemScore:  s.Sem,
			DepScore:  s.Dep,
			ArchScore: s.Arch,
			HistScore: s.Hist,
			Reason:    s.Reason,
		}
		files[i] = s.Path
	}
	if err := st.PutCandidateFiles(ctx, build.ID, rows); err != nil {
		return nil, Fatal(fmt.Errorf("persist candidates: %w", err))
	}

	out := Payload{
		Classification:   in.Classification,
		Language:         projCtx.Language,
		BuildTool:        string(projCtx.BuildTool),
		Framework:        projCtx.Framework.Name,
		FrameworkVersion: projCtx.Framework.Version,
		Modules:          projCtx.Modules,
		Files:            files,
	}
	return out.encode(), nil
}

// buildCandidates reads every conventional source file plus the build
// descriptor into ranker.Candidate values. project.Context only exposes the
// annotation index, not file content, so content is read directly here.
func (h *Handlers) buildCandidates(dir string, projCtx project.Context) ([]ranker.Candidate, error) {
	paths, err := project.SourceFiles(dir)
	if err != nil {
		return nil, err
	}

	if buildFile := buildDescriptorPath(projCtx.BuildTool); buildFile != "" {
		if _, err := os.Stat(filepath.Join(dir, buildFile)); err == nil {
			paths = append(paths, buildFile)
		}
	}

	candidates := make([]ranker.Candidate, 0, len(paths))
	for _, relPath := range paths {
		content, err := os.ReadFile(filepath.Join(dir, relPath))
		if err != nil {
			continue // unreadable file is dropped, matching the analyzer's own tolerance
		}
		candidates = append(candidates, ranker.Candidate{
			Path:        relPath,
			Content:     string(content),
			Annotations: projCtx.AnnotationIndex[relPath],
			IsBuildFile: relPath == buildDescriptorPath(projCtx.BuildTool),
			IsGenerated: strings.Contains(relPath, "/generated/"),
		})
	}
	return candidates, nil
}

func buildDescriptorPath(tool project.BuildTool) string {
	switch tool {
	case project.Maven:
		return "pom.xml"
	case project.Gradle:
		return "build.gradle"
	default:
		return ""
	}
}

func rankerKindFor(k classifier.Kind) ranker.ClassificationKind {
	switch k {
	case classifier.KindCompilation:
		return ranker.KindCompilation
	case classifier.KindDependency:
		return ranker.KindDependency
	case classifier.KindFrameworkContext:
		return ranker.KindFrameworkContext
	case classifier.KindTestFailure:
		return ranker.KindTestFailure
	default:
		return ranker.KindUnknown
	}
}

// errorTokensFor extracts the distinct words worth searching for in a
// candidate's content, per the classified failure kind.
func errorTokensFor(c classifier.Classification) []string {
	switch c.Kind {
	case classifier.KindCompilation:
		if c.Compilation == nil {
			return nil
		}
		return nonEmpty(c.Compilation.Symbol, c.Compilation.Message)
	case classifier.KindDependency:
		if c.Dependency == nil {
			return nil
		}
		return nonEmpty(c.Dependency.Artifact)
	case classifier.KindFrameworkContext:
		if c.FrameworkContext == nil {
			return nil
		}
		return nonEmpty(c.FrameworkContext.Identity, string(c.FrameworkContext.Kind))
	case classifier.KindTestFailure:
		if c.Test == nil {
			return nil
		}
		return nonEmpty(c.Test.Class, c.Test.Method, c.Test.Assertion)
	default:
		if c.Unknown == nil {
			return nil
		}
		return strings.Fields(c.Unknown.Tail)
	}
}

// anchorsFor extracts the symbol(s) the classification directly implicates,
// for depScore's import-graph walk.
func anchorsFor(c classifier.Classification) []string {
	switch c.Kind {
	case classifier.KindCompilation:
		if c.Compilation == nil || c.Compilation.Symbol == "" {
			return nil
		}
		return []string{c.Compilation.Symbol}
	case classifier.KindFrameworkContext:
		if c.FrameworkContext == nil || c.FrameworkContext.Identity == "" {
			return nil
		}
		return []string{c.FrameworkContext.Identity}
	case classifier.KindTestFailure:
		if c.Test == nil {
			return nil
		}
		return nonEmpty(c.Test.Class)
	default:
		return nil
	}
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CodeFix prompts the LLM for each candidate file in ranked order, applies
// the returned diff, and commits whatever patches applied cleanly.
func (h *Handlers) CodeFix(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error) {
	in, err := decodePayload(task.Payload)
	if err != nil {
		return nil, Fatal(err)
	}
	build, err := st.GetBuild(ctx, task.BuildID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("load build: %w", err))
	}

	errorSummary := classificationSummary(in.Classification)
	projectSummary := fmt.Sprintf("language=%s buildTool=%s framework=%s modules=%s",
		in.Language, in.BuildTool, in.Framework, strings.Join(in.Modules, ","))

	var appliedFiles []string
	for _, relPath := range in.Files {
		fullPath := filepath.Join(build.WorkingDir, relPath)
		content, err := os.ReadFile(fullPath)
		if err != nil {
			continue
		}
		if len(content) > prompt.MaxFileBytes {
			continue
		}

		result, diffText, err := h.fixOneFile(ctx, fullPath, relPath, errorSummary, projectSummary, string(content), in.RegenerationHint)
		if err != nil {
			return nil, err // already classified Retryable/Fatal
		}

		if _, err := st.CreatePatch(ctx, &store.Patch{
			BuildID:  build.ID,
			FilePath: relPath,
			DiffText: diffText,
			Applied:  result.Applied,
			ApplyLog: result.ApplyLog,
		}); err != nil {
			h.logger.Error("persist patch", slog.String("build_id", build.ID), slog.String("error", err.Error()))
		}
		if result.Applied {
			appliedFiles = append(appliedFiles, relPath)
		}
	}

	if len(appliedFiles) == 0 {
		return nil, Fatal(ErrNoAppliedPatches)
	}

	branch := "ci-fix/" + build.ID
	if err := h.git.CreateBranch(ctx, build.WorkingDir, branch); err != nil {
		return nil, Retryable(fmt.Errorf("create branch: %w", err))
	}
	if err := h.git.StageAll(ctx, build.WorkingDir); err != nil {
		return nil, Retryable(fmt.Errorf("stage changes: %w", err))
	}
	staged, err := h.git.HasStagedChanges(ctx, build.WorkingDir)
	if err != nil {
		return nil, Retryable(fmt.Errorf("check staged changes: %w", err))
	}
	if staged {
		commitMsg := buildCommitMessage(build, in, appliedFiles)
		if _, err := h.git.Commit(ctx, build.WorkingDir, commitMsg); err != nil {
			return nil, Retryable(fmt.Errorf("commit: %w", err))
		}
	}

	if !h.cfg.ValidationEnabled {
		h.recordValidation(ctx, st, build.ID, validator.Skipped(validator.StageCompile), nil)
		h.recordValidation(ctx, st, build.ID, validator.Skipped(validator.StageTest), nil)
	}

	out := Payload{
		Classification:   in.Classification,
		Language:         in.Language,
		BuildTool:        in.BuildTool,
		Framework:        in.Framework,
		FrameworkVersion: in.FrameworkVersion,
		Modules:          in.Modules,
		Files:            in.Files,
		BranchName:       branch,
	}
	return out.encode(), nil
}

// fixOneFile prompts for one file and applies the result, retrying once
// with a regeneration hint if the diff fails to parse or apply — the one
// malformed-output retry the pipeline affords within a single CODE_FIX
// attempt, rather than failing the whole task over one bad completion.
func (h *Handlers) fixOneFile(ctx context.Context, fullPath, relPath, errorSummary, projectSummary, content, hint string) (patch.Result, string, error) {
	diffText, err := h.complete(ctx, errorSummary, projectSummary, relPath, content, hint)
	if err != nil {
		return patch.Result{}, "", err
	}
	result := patch.ApplyToFile(fullPath, diffText)
	if result.Applied {
		return result, diffText, nil
	}

	retryDiff, err := h.complete(ctx, errorSummary, projectSummary, relPath, content, result.ApplyLog)
	if err != nil {
		return result, diffText, nil // keep the first (failed) attempt's record; don't fail the stage over a retry-request error
	}
	retryResult := patch.ApplyToFile(fullPath, retryDiff)
	return retryResult, retryDiff, nil
}

func (h *Handlers) complete(ctx context.Context, errorSummary, projectSummary, relPath, content, hint string) (string, error) {
	msgs, err := prompt.Build(prompt.Input{
		ErrorSummary:     errorSummary,
		ProjectSummary:   projectSummary,
		FilePath:         relPath,
		FileContent:      content,
		RegenerationHint: hint,
	})
	if err != nil {
		return "", Fatal(fmt.Errorf("build prompt for %s: %w", relPath, err))
	}

	temperature := h.cfg.Temperature
	resp, err := h.llmClient.Complete(ctx, llm.Request{Messages: msgs, Temperature: &temperature})
	if err != nil {
		if llm.IsFatal(err) {
			return "", Fatal(fmt.Errorf("llm completion for %s: %w", relPath, err))
		}
		return "", Retryable(fmt.Errorf("llm completion for %s: %w", relPath, err))
	}
	return resp.Content, nil
}

// buildCommitMessage documents everything a reviewer should be able to tell
// from the commit alone: which build prompted it, which repo and build tool
// it ran against, the framework version in play, and exactly which files
// changed.
func buildCommitMessage(build *store.Build, in Payload, appliedFiles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for %s build #%d\n\n", build.JobName, build.BuildNumber)
	fmt.Fprintf(&b, "Repository: %s\n", build.RepoURL)
	fmt.Fprintf(&b, "Build tool: %s\n", in.BuildTool)
	fmt.Fprintf(&b, "Framework version: %s\n", in.FrameworkVersion)
	b.WriteString("Modified files:\n")
	for _, f := range appliedFiles {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	return b.String()
}

// buildPRBody assembles the pull request description: what failed, which
// files were patched, what validation found (or that it was skipped), and a
// checklist for the human reviewer.
func buildPRBody(in Payload, patches []store.Patch, validations []store.Validation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", classificationSummary(in.Classification))

	b.WriteString("## Patched files\n")
	anyApplied := false
	for _, p := range patches {
		if !p.Applied {
			continue
		}
		anyApplied = true
		fmt.Fprintf(&b, "- `%s`\n", p.FilePath)
	}
	if !anyApplied {
		b.WriteString("- (none recorded)\n")
	}

	b.WriteString("\n## Validation\n")
	if len(validations) == 0 {
		b.WriteString("Skipped.\n")
	} else {
		for _, v := range validations {
			if v.Skipped {
				fmt.Fprintf(&b, "- %s: skipped\n", strings.ToLower(string(v.ValidationType)))
				continue
			}
			status := "passed"
			if v.ExitCode != 0 {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s: %s (exit %d)\n", strings.ToLower(string(v.ValidationType)), status, v.ExitCode)
		}
	}

	b.WriteString("\n## Review checklist\n")
	b.WriteString("- [ ] Changes address the root cause, not just the symptom\n")
	b.WriteString("- [ ] No unrelated files were modified\n")
	b.WriteString("- [ ] Tests (if any ran) genuinely exercise the fix\n")
	return b.String()
}

// shortSHA returns the conventional 7-character abbreviation of a commit
// SHA, falling back to the whole string if it is already shorter.
func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}

func classificationSummary(c classifier.Classification) string {
	switch c.Kind {
	case classifier.KindCompilation:
		if c.Compilation == nil {
			return "compilation error"
		}
		return fmt.Sprintf("compilation error in %s:%d: %s", c.Compilation.Path, c.Compilation.Line, c.Compilation.Message)
	case classifier.KindDependency:
		if c.Dependency == nil {
			return "dependency error"
		}
		if c.Dependency.Conflict {
			return fmt.Sprintf("dependency conflict: %s", c.Dependency.Message)
		}
		return fmt.Sprintf("missing dependency: %s", c.Dependency.Artifact)
	case classifier.KindFrameworkContext:
		if c.FrameworkContext == nil {
			return "framework context error"
		}
		return fmt.Sprintf("%s: %s (%s)", c.FrameworkContext.Kind, c.FrameworkContext.Identity, c.FrameworkContext.Message)
	case classifier.KindTestFailure:
		if c.Test == nil {
			return "test failure"
		}
		return fmt.Sprintf("%s.%s failed: %s", c.Test.Class, c.Test.Method, c.Test.Assertion)
	default:
		if c.Unknown == nil {
			return "unclassified build failure"
		}
		return "unclassified build failure: " + c.Unknown.Tail
	}
}

// Validate runs the project's build tool against the CODE_FIX commit. A
// failure returns the enriched payload CODE_FIX retries with, rather than
// retrying VALIDATE itself against an unfixed tree.
func (h *Handlers) Validate(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error) {
	in, err := decodePayload(task.Payload)
	if err != nil {
		return nil, Fatal(err)
	}
	build, err := st.GetBuild(ctx, task.BuildID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("load build: %w", err))
	}
	tool := project.BuildTool(in.BuildTool)

	compile, err := h.validator.Compile(ctx, build.WorkingDir, tool)
	h.recordValidation(ctx, st, build.ID, compile, err)
	if err != nil && !validator.IsTimeout(err) {
		return nil, Fatal(fmt.Errorf("compile: %w", err))
	}
	if err != nil || !compile.Success() {
		return h.validationRetry(in, "compile", compile, err)
	}

	test, err := h.validator.Test(ctx, build.WorkingDir, tool)
	h.recordValidation(ctx, st, build.ID, test, err)
	if err != nil && !validator.IsTimeout(err) {
		return nil, Fatal(fmt.Errorf("test: %w", err))
	}
	if err != nil || !test.Success() {
		return h.validationRetry(in, "test", test, err)
	}

	return in.encode(), nil
}

func (h *Handlers) recordValidation(ctx context.Context, st *store.Store, buildID string, r validator.Result, runErr error) {
	v := &store.Validation{
		BuildID:             buildID,
		ValidationType:      validationTypeOf(r.Stage),
		ExitCode:            r.ExitCode,
		StdoutTail:          r.Stdout,
		StderrTail:          r.Stderr,
		SpringContextLoaded: r.SpringContextLoaded,
		Skipped:             r.Skipped,
	}
	if _, err := st.CreateValidation(ctx, v); err != nil {
		h.logger.Error("persist validation", slog.String("build_id", buildID), slog.String("error", err.Error()))
	}
	_ = runErr
}

func validationTypeOf(s validator.Stage) store.ValidationType {
	if s == validator.StageTest {
		return store.ValidationTest
	}
	return store.ValidationCompile
}

func (h *Handlers) validationRetry(in Payload, phase string, r validator.Result, runErr error) ([]byte, error) {
	hint := fmt.Sprintf("%s failed (exit %d):\n%s\n%s", phase, r.ExitCode, lastN(r.Stdout, 2000), lastN(r.Stderr, 2000))
	if runErr != nil {
		hint = fmt.Sprintf("%s timed out: %s", phase, runErr.Error())
	}
	out := Payload{
		Classification:   in.Classification,
		Language:         in.Language,
		BuildTool:        in.BuildTool,
		Framework:        in.Framework,
		FrameworkVersion: in.FrameworkVersion,
		Modules:          in.Modules,
		Files:            in.Files,
		RegenerationHint: hint,
	}
	return out.encode(), Retryable(fmt.Errorf("%s failed", phase))
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// CreatePR pushes the fix branch and opens a pull request, tolerating a
// retry that finds one already created for this Build.
func (h *Handlers) CreatePR(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error) {
	in, err := decodePayload(task.Payload)
	if err != nil {
		return nil, Fatal(err)
	}
	build, err := st.GetBuild(ctx, task.BuildID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("load build: %w", err))
	}

	if existing, err := st.GetPullRequestByBuild(ctx, build.ID); err == nil {
		h.logger.Debug("pull request already exists", slog.String("build_id", build.ID), slog.Int("number", existing.Number))
		return in.encode(), nil
	}

	if in.BranchName == "" {
		return nil, Fatal(fmt.Errorf("no branch recorded for build %s", build.ID))
	}

	if err := h.git.Push(ctx, build.WorkingDir, "origin", in.BranchName); err != nil {
		return nil, Retryable(fmt.Errorf("push: %w", err))
	}

	repo, err := hostprovider.ParseRepoURL(build.RepoURL)
	if err != nil {
		return nil, Fatal(fmt.Errorf("parse repo url: %w", err))
	}

	patches, err := st.ListPatches(ctx, build.ID)
	if err != nil {
		h.logger.Error("list patches", slog.String("build_id", build.ID), slog.String("error", err.Error()))
	}
	validations, err := st.ListValidations(ctx, build.ID)
	if err != nil {
		h.logger.Error("list validations", slog.String("build_id", build.ID), slog.String("error", err.Error()))
	}

	title := fmt.Sprintf("Fix: CI build #%d (%s)", build.BuildNumber, shortSHA(build.CommitSHA))
	body := buildPRBody(in, patches, validations)

	pr, err := h.hostClient.CreatePullRequest(ctx, hostprovider.CreatePullRequestInput{
		Repo:  repo,
		Title: title,
		Body:  body,
		Head:  in.BranchName,
		Base:  build.Branch,
	})
	if err != nil {
		if hostprovider.IsFatal(err) {
			return nil, Fatal(fmt.Errorf("create pull request: %w", err))
		}
		return nil, Retryable(fmt.Errorf("create pull request: %w", err))
	}

	if len(h.cfg.PullRequestLabels) > 0 {
		if err := h.hostClient.AddLabels(ctx, repo, pr.Number, h.cfg.PullRequestLabels); err != nil {
			h.logger.Warn("add labels", slog.String("build_id", build.ID), slog.Int("number", pr.Number), slog.String("error", err.Error()))
		}
	}

	if _, err := st.CreatePullRequest(ctx, &store.PullRequest{
		BuildID:    build.ID,
		BranchName: in.BranchName,
		Number:     pr.Number,
		HTMLURL:    pr.HTMLURL,
		Status:     store.PullRequestCreated,
	}); err != nil {
		h.logger.Error("persist pull request", slog.String("build_id", build.ID), slog.String("error", err.Error()))
	}

	return in.encode(), nil
}

// Notify records the Build's terminal outcome. By the time NOTIFY runs, the
// orchestrator has already set the Build's final status.
func (h *Handlers) Notify(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error) {
	build, err := st.GetBuild(ctx, task.BuildID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("load build: %w", err))
	}

	message := fmt.Sprintf("%s build #%d: %s", build.JobName, build.BuildNumber, build.Status)
	if pr, err := st.GetPullRequestByBuild(ctx, build.ID); err == nil {
		message = fmt.Sprintf("%s (%s)", message, pr.HTMLURL)
	}

	notification := store.Notification{
		BuildID: build.ID,
		Outcome: string(build.Status),
		Message: message,
	}
	if _, err := st.CreateNotification(ctx, &notification); err != nil {
		return nil, Fatal(fmt.Errorf("persist notification: %w", err))
	}

	if err := h.notifier.Notify(ctx, notification); err != nil {
		h.logger.Warn("deliver notification", slog.String("build_id", build.ID), slog.String("error", err.Error()))
	}

	return nil, nil
}
