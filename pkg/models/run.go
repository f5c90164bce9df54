package models

import "time"

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	// ReasonAllComplete means the ledger had no pending entries left.
	ReasonAllComplete TerminationReason = "all_complete"
	// ReasonMaxIterations means the per-invocation cycle cap was reached.
	ReasonMaxIterations TerminationReason = "max_iterations"
	// ReasonIterationFailed means a cycle failed verification and the loop
	// stopped, or every remaining pending item failed in this invocation.
	ReasonIterationFailed TerminationReason = "iteration_failed"
	// ReasonAgentSignaledComplete means the agent printed the completion sentinel.
	ReasonAgentSignaledComplete TerminationReason = "agent_signaled_complete"
	// ReasonDesync means a ledger id could not be resolved in the store.
	ReasonDesync TerminationReason = "desync"
	// ReasonCanceled means the run context was canceled mid-run.
	ReasonCanceled TerminationReason = "canceled"
	// ReasonError means a ledger write or another unrecoverable step failed.
	ReasonError TerminationReason = "error"
)

// Success reports whether the reason maps to a zero exit status.
func (r TerminationReason) Success() bool {
	switch r {
	case ReasonAllComplete, ReasonMaxIterations, ReasonIterationFailed, ReasonAgentSignaledComplete:
		return true
	}
	return false
}

// ProduceContext is the contextual information handed to a content producer
// along with the work item.
type ProduceContext struct {
	RunID        string      `json:"run_id"`
	ArtifactPath string      `json:"artifact_path"`
	OutputDir    string      `json:"output_dir"`
	RecentLog    []LogRecord `json:"recent_log,omitempty"`
	Progress     Progress    `json:"progress"`
	Iteration    int         `json:"iteration"`
	Attempt      int         `json:"attempt"`
}

// ProduceResult is what a content producer reports back. Success is never
// taken from it: the artifact on disk decides.
type ProduceResult struct {
	// NoWorkRemaining is set when the producer emitted the completion sentinel.
	NoWorkRemaining bool
	// Summary is an optional one-line description for the ledger log.
	Summary  string
	ExitCode int
	Output   string
	Duration time.Duration
}

// CycleOutcome records what happened to one item in one cycle.
type CycleOutcome struct {
	Iteration int           `json:"iteration"`
	ItemID    string        `json:"item_id"`
	Attempt   int           `json:"attempt"`
	Completed bool          `json:"completed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunResult summarises one invocation of the run loop.
type RunResult struct {
	RunID     string            `json:"run_id"`
	Cycles    int               `json:"cycles"`
	Completed []string          `json:"completed,omitempty"`
	Failed    []string          `json:"failed,omitempty"`
	Outcomes  []CycleOutcome    `json:"outcomes,omitempty"`
	Progress  Progress          `json:"progress"`
	Reason    TerminationReason `json:"reason"`
	Warnings  []string          `json:"warnings,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
}
