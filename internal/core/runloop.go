package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/valter-silva-au/ralph/internal/storage"
	"github.com/valter-silva-au/ralph/pkg/models"
)

// ContentProducer creates the artifact for one work item. Its result is
// advisory: a cycle only succeeds when the artifact exists afterwards.
type ContentProducer interface {
	Produce(ctx context.Context, item models.WorkItem, pc models.ProduceContext) (models.ProduceResult, error)
}

// ProgressLedger is the subset of storage.Ledger the run loop needs.
type ProgressLedger interface {
	Reload() error
	NextPending() (string, bool)
	Entries() []models.ProgressEntry
	Progress() models.Progress
	RecentLogRecords(n int) []models.LogRecord
	MarkCompleted(id string) (bool, error)
	AppendLogRecord(rec models.LogRecord) error
}

// WorkItemLookup resolves ledger ids to work items.
type WorkItemLookup interface {
	Get(id string) (models.WorkItem, error)
}

// ArtifactSanitizer repairs encoding damage in a produced artifact.
type ArtifactSanitizer interface {
	Sanitize(path string) (changed bool, err error)
}

// Committer records a completed item in version control.
type Committer interface {
	Commit(ctx context.Context, item models.WorkItem, paths []string) error
}

// EventLogger is the subset of the observability event log the run loop
// writes to. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Event types written by the run loop.
const (
	EventRunStarted     = "run.started"
	EventCycleStarted   = "cycle.started"
	EventCycleCompleted = "cycle.completed"
	EventCycleFailed    = "cycle.failed"
	EventRunFinished    = "run.finished"
)

// OrphanSuffix is appended to an artifact found on disk before its cycle ran.
const OrphanSuffix = ".orphaned"

// RunOptions bounds and parameterises one invocation of the loop.
type RunOptions struct {
	OutputDir     string
	ArtifactExt   string
	MaxIterations int
	// MaxAttempts is how many cycles one item may consume in this invocation.
	MaxAttempts int
	// FailFast stops the loop once an item exhausts its attempts. Otherwise
	// the item is left pending and skipped for the rest of the invocation.
	FailFast     bool
	RecentLog    int
	CycleTimeout time.Duration
}

// RunOptionsFromConfig maps configuration onto RunOptions.
func RunOptionsFromConfig(cfg *models.Config) RunOptions {
	return RunOptions{
		OutputDir:     cfg.OutputDir,
		ArtifactExt:   cfg.ArtifactExt,
		MaxIterations: cfg.MaxIterations,
		MaxAttempts:   cfg.MaxAttempts,
		FailFast:      cfg.FailFast,
		RecentLog:     cfg.RecentLog,
		CycleTimeout:  cfg.Agent.Timeout,
	}
}

// RunLoop drives select -> load -> produce -> verify -> commit cycles.
type RunLoop interface {
	// Run executes cycles until no work is pending, the iteration cap is hit,
	// an iteration fails with FailFast set, or a fatal error occurs. The
	// result is always non-nil and reflects partial progress on error.
	Run(ctx context.Context, opts RunOptions) (*models.RunResult, error)
}

// RunLoopDeps are the collaborators of a RunLoop. Sanitizer, Committer,
// Events and Logger may be nil.
type RunLoopDeps struct {
	Store     WorkItemLookup
	Ledger    ProgressLedger
	Producer  ContentProducer
	Sanitizer ArtifactSanitizer
	Committer Committer
	Events    EventLogger
	Logger    *log.Logger
	Now       func() time.Time
}

type runLoop struct {
	RunLoopDeps
}

// NewRunLoop creates a RunLoop.
func NewRunLoop(deps RunLoopDeps) RunLoop {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &runLoop{RunLoopDeps: deps}
}

type cycleStatus int

const (
	cycleCompleted cycleStatus = iota
	// cycleUnchanged means the item was verified but the ledger already had
	// it completed, typically by a concurrent run.
	cycleUnchanged
	// cycleNotProduced means the agent signaled that no work remains
	// without writing the artifact.
	cycleNotProduced
	cycleFailed
	cycleFatal
)

// fatalError carries the termination reason of an unrecoverable cycle.
type fatalError struct {
	reason models.TerminationReason
	err    error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func (r *runLoop) Run(ctx context.Context, opts RunOptions) (*models.RunResult, error) {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	res := &models.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: r.Now(),
	}
	logger := r.Logger.With("run", res.RunID[:8])
	r.event(EventRunStarted, map[string]any{
		"run_id":         res.RunID,
		"max_iterations": opts.MaxIterations,
		"progress":       progressData(r.Ledger.Progress()),
	})
	logger.Info("run started", "max_iterations", opts.MaxIterations, "pending", r.Ledger.Progress().Pending)

	attempts := make(map[string]int)
	skipped := make(map[string]bool)
	var runErr error

loop:
	for res.Cycles < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			res.Reason = models.ReasonCanceled
			runErr = fmt.Errorf("run canceled: %w", err)
			break
		}

		// Pick up edits made to the ledger between cycles.
		if err := r.Ledger.Reload(); err != nil {
			res.Reason = models.ReasonError
			runErr = fmt.Errorf("reloading ledger: %w", err)
			break
		}

		id, ok := r.selectNext(skipped)
		if !ok {
			if len(skipped) > 0 {
				res.Reason = models.ReasonIterationFailed
			} else {
				res.Reason = models.ReasonAllComplete
			}
			break
		}

		item, err := r.Store.Get(id)
		if err != nil {
			res.Reason = models.ReasonDesync
			runErr = fmt.Errorf("loading work item %s: %w", id, err)
			break
		}

		res.Cycles++
		attempts[id]++
		pc := models.ProduceContext{
			RunID:        res.RunID,
			ArtifactPath: ArtifactPath(opts.OutputDir, item.ID, opts.ArtifactExt),
			OutputDir:    opts.OutputDir,
			RecentLog:    r.Ledger.RecentLogRecords(opts.RecentLog),
			Progress:     r.Ledger.Progress(),
			Iteration:    res.Cycles,
			Attempt:      attempts[id],
		}

		started := r.Now()
		r.event(EventCycleStarted, map[string]any{
			"run_id":    res.RunID,
			"item_id":   id,
			"iteration": pc.Iteration,
			"attempt":   pc.Attempt,
		})
		logger.Info("cycle started", "iteration", pc.Iteration, "item", id, "attempt", pc.Attempt)

		status, agentDone, cerr := r.cycle(ctx, item, pc, opts, res, logger)
		elapsed := r.Now().Sub(started)
		outcome := models.CycleOutcome{
			Iteration: pc.Iteration,
			ItemID:    id,
			Attempt:   pc.Attempt,
			Completed: status == cycleCompleted,
			Duration:  elapsed,
		}
		if cerr != nil {
			outcome.Error = cerr.Error()
		}
		res.Outcomes = append(res.Outcomes, outcome)

		switch status {
		case cycleCompleted:
			res.Completed = append(res.Completed, id)
			r.event(EventCycleCompleted, map[string]any{
				"run_id":      res.RunID,
				"item_id":     id,
				"iteration":   pc.Iteration,
				"attempt":     pc.Attempt,
				"duration_ms": elapsed.Milliseconds(),
			})
			logger.Info("cycle completed", "item", id, "duration", elapsed.Round(time.Second))

		case cycleUnchanged:
			logger.Info("cycle left the ledger unchanged", "item", id)

		case cycleFailed:
			r.event(EventCycleFailed, map[string]any{
				"run_id":      res.RunID,
				"item_id":     id,
				"iteration":   pc.Iteration,
				"attempt":     pc.Attempt,
				"duration_ms": elapsed.Milliseconds(),
				"error":       cerr.Error(),
			})
			r.warn(res, logger, fmt.Sprintf("iteration %d: %s left pending: %v", pc.Iteration, id, cerr))
			if attempts[id] >= opts.MaxAttempts {
				res.Failed = append(res.Failed, id)
				if opts.FailFast {
					res.Reason = models.ReasonIterationFailed
					break loop
				}
				skipped[id] = true
			}

		case cycleFatal:
			res.Reason = models.ReasonError
			var fe *fatalError
			if errors.As(cerr, &fe) {
				res.Reason = fe.reason
			}
			runErr = cerr
			break loop
		}

		if agentDone {
			res.Reason = models.ReasonAgentSignaledComplete
			logger.Info("agent signaled that no work remains", "item", id)
			break
		}
	}

	if res.Reason == "" {
		// The cap was reached; report all_complete when it coincides with
		// the last pending item being done.
		res.Reason = models.ReasonMaxIterations
		if err := r.Ledger.Reload(); err == nil {
			if _, ok := r.selectNext(nil); !ok {
				res.Reason = models.ReasonAllComplete
			}
		}
	}

	res.Progress = r.Ledger.Progress()
	res.EndedAt = r.Now()
	finished := map[string]any{
		"run_id":    res.RunID,
		"reason":    string(res.Reason),
		"cycles":    res.Cycles,
		"completed": len(res.Completed),
		"failed":    len(res.Failed),
		"progress":  progressData(res.Progress),
	}
	if runErr != nil {
		finished["error"] = runErr.Error()
	}
	r.event(EventRunFinished, finished)

	if runErr != nil {
		logger.Error("run aborted", "reason", res.Reason, "err", runErr)
	} else {
		logger.Info("run finished", "reason", res.Reason, "cycles", res.Cycles,
			"completed", res.Progress.Completed, "pending", res.Progress.Pending)
	}
	return res, runErr
}

// selectNext returns the first pending id not in skipped.
func (r *runLoop) selectNext(skipped map[string]bool) (string, bool) {
	id, ok := r.Ledger.NextPending()
	if !ok || !skipped[id] {
		return id, ok
	}
	for _, e := range r.Ledger.Entries() {
		if !e.Completed() && !skipped[e.ID] {
			return e.ID, true
		}
	}
	return "", false
}

// cycle runs one produce-verify-commit pass for item. The boolean reports
// whether the agent emitted the completion sentinel; a verified artifact is
// still committed in that case.
func (r *runLoop) cycle(ctx context.Context, item models.WorkItem, pc models.ProduceContext, opts RunOptions, res *models.RunResult, logger *log.Logger) (cycleStatus, bool, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return cycleFatal, false, fmt.Errorf("creating output directory: %w", err)
	}
	movedTo, err := setAsideStale(pc.ArtifactPath)
	if err != nil {
		return cycleFailed, false, err
	}
	if movedTo != "" {
		r.warn(res, logger, fmt.Sprintf("stale artifact for %s moved to %s", item.ID, movedTo))
	}

	cctx := ctx
	if opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, opts.CycleTimeout)
		defer cancel()
	}

	out, err := r.Producer.Produce(cctx, item, pc)
	if ctx.Err() != nil {
		return cycleFatal, false, &fatalError{
			reason: models.ReasonCanceled,
			err:    fmt.Errorf("run canceled while producing %s: %w", item.ID, ctx.Err()),
		}
	}
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return cycleFailed, false, fmt.Errorf("producer timed out after %s: %w", opts.CycleTimeout, err)
		}
		return cycleFailed, false, fmt.Errorf("producing artifact: %w", err)
	}
	if out.ExitCode != 0 {
		r.warn(res, logger, fmt.Sprintf("producer for %s exited with code %d", item.ID, out.ExitCode))
	}

	if err := verifyArtifact(pc.ArtifactPath); err != nil {
		if out.NoWorkRemaining {
			return cycleNotProduced, true, nil
		}
		return cycleFailed, false, err
	}

	changed, err := r.commit(ctx, item, pc, out, res, logger)
	if err != nil {
		return cycleFatal, false, err
	}
	if !changed {
		return cycleUnchanged, out.NoWorkRemaining, nil
	}
	return cycleCompleted, out.NoWorkRemaining, nil
}

// setAsideStale renames an artifact that exists before production so that
// verification only accepts a file written during this cycle. It returns the
// new name, or "" when there was nothing to move. Earlier set-aside copies
// are never overwritten.
func setAsideStale(path string) (string, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("checking for stale artifact: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("artifact path %s is a directory", path)
	}
	dest := path + OrphanSuffix
	for n := 1; ; n++ {
		if _, err := os.Lstat(dest); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("checking for stale artifact: %w", err)
		}
		dest = fmt.Sprintf("%s.%d%s", path, n, OrphanSuffix)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("setting aside stale artifact: %w", err)
	}
	return dest, nil
}

func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("expected artifact %s was not created", path)
		}
		return fmt.Errorf("verifying artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("artifact %s is not a regular file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}
	return nil
}

// commit persists the completion and reports whether the ledger changed.
// Only the ledger status write is allowed to fail the run; everything after
// it is best effort.
func (r *runLoop) commit(ctx context.Context, item models.WorkItem, pc models.ProduceContext, out models.ProduceResult, res *models.RunResult, logger *log.Logger) (bool, error) {
	if r.Sanitizer != nil {
		changed, err := r.Sanitizer.Sanitize(pc.ArtifactPath)
		if err != nil {
			r.warn(res, logger, fmt.Sprintf("sanitizing %s: %v", pc.ArtifactPath, err))
		} else if changed {
			logger.Info("artifact sanitized", "item", item.ID)
		}
	}

	changed, err := r.Ledger.MarkCompleted(item.ID)
	if err != nil {
		reason := models.ReasonError
		var unknown *storage.UnknownIDError
		if errors.As(err, &unknown) {
			reason = models.ReasonDesync
		}
		return false, &fatalError{reason: reason, err: err}
	}
	if !changed {
		r.warn(res, logger, fmt.Sprintf("%s was already completed in the ledger", item.ID))
		return false, nil
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		summary = item.Description
	}
	if err := r.Ledger.AppendLogRecord(models.LogRecord{
		Time:    r.Now(),
		ItemID:  item.ID,
		Summary: summary,
	}); err != nil {
		r.warn(res, logger, fmt.Sprintf("ledger log not updated: %v", err))
	}

	if r.Committer != nil {
		if err := r.Committer.Commit(ctx, item, []string{pc.ArtifactPath}); err != nil {
			r.warn(res, logger, fmt.Sprintf("committing %s: %v", item.ID, err))
		}
	}
	return true, nil
}

func (r *runLoop) warn(res *models.RunResult, logger *log.Logger, msg string) {
	res.Warnings = append(res.Warnings, msg)
	logger.Warn(msg)
}

func (r *runLoop) event(eventType string, data map[string]any) {
	if r.Events == nil {
		return
	}
	if err := r.Events.LogEvent(eventType, data); err != nil {
		r.Logger.Debug("event not recorded", "type", eventType, "err", err)
	}
}

func progressData(p models.Progress) map[string]any {
	return map[string]any{
		"total":     p.Total,
		"pending":   p.Pending,
		"completed": p.Completed,
	}
}
