package store

import "time"

// BuildStatus is a Build's lifecycle state.
type BuildStatus string

const (
	BuildProcessing                 BuildStatus = "PROCESSING"
	BuildCompleted                  BuildStatus = "COMPLETED"
	BuildFailed                     BuildStatus = "FAILED"
	BuildManualInterventionRequired BuildStatus = "MANUAL_INTERVENTION_REQUIRED"
)

// TaskType is one stage of the fixed pipeline.
type TaskType string

const (
	TaskPlan     TaskType = "PLAN"
	TaskRetrieve TaskType = "RETRIEVE"
	TaskCodeFix  TaskType = "CODE_FIX"
	TaskValidate TaskType = "VALIDATE"
	TaskCreatePR TaskType = "CREATE_PR"
	TaskNotify   TaskType = "NOTIFY"
)

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// Build is one failed CI run submitted for repair.
type Build struct {
	ID          string      `db:"id"`
	JobName     string      `db:"job_name"`
	BuildNumber int         `db:"build_number"`
	Branch      string      `db:"branch"`
	RepoURL     string      `db:"repo_url"`
	CommitSHA   string      `db:"commit_sha"`
	WorkingDir  string      `db:"working_dir"`
	Status      BuildStatus `db:"status"`
	Payload     []byte      `db:"payload"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

// Task is one stage of work for a Build.
type Task struct {
	ID             string     `db:"id"`
	BuildID        string     `db:"build_id"`
	Type           TaskType   `db:"type"`
	Status         TaskStatus `db:"status"`
	Attempt        int        `db:"attempt"`
	MaxAttempts    int        `db:"max_attempts"`
	Payload        []byte     `db:"payload"`
	ErrorMessage   string     `db:"error_message"`
	NotBefore      time.Time  `db:"not_before"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// CandidateFile is a source file the ranker believes likely needs
// modification, produced by RETRIEVE and consumed by CODE_FIX.
type CandidateFile struct {
	ID        string    `db:"id"`
	BuildID   string    `db:"build_id"`
	FilePath  string    `db:"file_path"`
	Score     float64   `db:"score"`
	SemScore  float64   `db:"sem_score"`
	DepScore  float64   `db:"dep_score"`
	ArchScore float64   `db:"arch_score"`
	HistScore float64   `db:"hist_score"`
	Reason    string    `db:"reason"`
	RankOrder int       `db:"rank_order"`
	CreatedAt time.Time `db:"created_at"`
}

// Patch is a generated unified diff for one file in one Build.
type Patch struct {
	ID        string    `db:"id"`
	BuildID   string    `db:"build_id"`
	FilePath  string    `db:"file_path"`
	DiffText  string    `db:"diff_text"`
	Applied   bool      `db:"applied"`
	ApplyLog  string    `db:"apply_log"`
	CreatedAt time.Time `db:"created_at"`
}

// ValidationType distinguishes the compile phase from the test phase.
type ValidationType string

const (
	ValidationCompile ValidationType = "COMPILE"
	ValidationTest    ValidationType = "TEST"
)

// Validation is one VALIDATE-stage build-tool invocation's outcome.
type Validation struct {
	ID                  string         `db:"id"`
	BuildID             string         `db:"build_id"`
	ValidationType      ValidationType `db:"validation_type"`
	ExitCode            int            `db:"exit_code"`
	StdoutTail          string         `db:"stdout_tail"`
	StderrTail          string         `db:"stderr_tail"`
	SpringContextLoaded *bool          `db:"spring_context_loaded"`
	Skipped             bool           `db:"skipped"`
	CreatedAt           time.Time      `db:"created_at"`
}

// PullRequestStatus mirrors the hosting provider's PR lifecycle.
type PullRequestStatus string

const (
	PullRequestCreated PullRequestStatus = "CREATED"
	PullRequestMerged  PullRequestStatus = "MERGED"
	PullRequestClosed  PullRequestStatus = "CLOSED"
)

// PullRequest is the result of the CREATE_PR stage; unique per Build.
type PullRequest struct {
	ID         string            `db:"id"`
	BuildID    string            `db:"build_id"`
	BranchName string            `db:"branch_name"`
	Number     int               `db:"pr_number"`
	HTMLURL    string            `db:"html_url"`
	Status     PullRequestStatus `db:"status"`
	CreatedAt  time.Time         `db:"created_at"`
}

// Notification is the terminal NOTIFY-stage record of a Build's outcome.
type Notification struct {
	ID        string    `db:"id"`
	BuildID   string    `db:"build_id"`
	Outcome   string    `db:"outcome"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}
