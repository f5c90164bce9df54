package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/observability"
	"github.com/valter-silva-au/ralph/internal/storage"
	"github.com/valter-silva-au/ralph/pkg/models"
)

const testStore = `{"items": [
  {"id": "CS-1-1", "category": "lessons", "description": "Variables and types"},
  {"id": "CS-1-2", "category": "lessons", "description": "Control flow"},
  {"id": "CS-2-1", "category": "quizzes", "description": "Quiz one"}
]}`

const testLedger = `# Progress

## Lessons
- [x] CS-1-1 Variables and types
- [ ] CS-1-2 Control flow

## Quizzes
- [ ] CS-2-1 Quiz one

## Log
- 2025-01-15T10:00:00Z | CS-1-1 | Wrote the variables lesson
`

// withWorkspace points the package-level workspace vars at a fresh temp
// directory and restores them when the test ends. An empty ledger text
// leaves the ledger uncreated.
func withWorkspace(t *testing.T, ledgerText string) string {
	t.Helper()

	saved := struct {
		base                string
		cfg                 *models.Config
		store               *storage.WorkItemStore
		storeErr, ledgerErr error
		ledger              *storage.Ledger
		loop                core.RunLoop
		prompts             core.PromptRenderer
		metrics             observability.MetricsCalculator
		alerts              observability.AlertEngine
		notifier            observability.Notifier
		exporter            *observability.TextfileExporter
	}{BasePath, Cfg, Store, StoreErr, LedgerErr, Ledger, Loop, Prompts, MetricsCalc, AlertEngine, Notifier, Exporter}
	t.Cleanup(func() {
		BasePath, Cfg, Store, StoreErr, LedgerErr = saved.base, saved.cfg, saved.store, saved.storeErr, saved.ledgerErr
		Ledger, Loop, Prompts = saved.ledger, saved.loop, saved.prompts
		MetricsCalc, AlertEngine, Notifier, Exporter = saved.metrics, saved.alerts, saved.notifier, saved.exporter
	})

	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "prd.json"), testStore)

	cfg := core.DefaultConfig()
	cfg.BasePath = dir
	cfg.StorePath = filepath.Join(dir, cfg.StorePath)
	cfg.LedgerPath = filepath.Join(dir, cfg.LedgerPath)
	cfg.OutputDir = filepath.Join(dir, cfg.OutputDir)
	cfg.EventLogPath = filepath.Join(dir, cfg.EventLogPath)

	BasePath = dir
	Cfg = cfg
	Loop = nil
	MetricsCalc, AlertEngine, Notifier, Exporter = nil, nil, nil, nil

	Store, StoreErr = storage.LoadWorkItemStore(cfg.StorePath)
	if StoreErr != nil {
		t.Fatalf("loading store: %v", StoreErr)
	}

	Ledger, LedgerErr = nil, nil
	if ledgerText != "" {
		writeTestFile(t, cfg.LedgerPath, ledgerText)
		Ledger, LedgerErr = storage.OpenLedger(cfg.LedgerPath)
		if LedgerErr != nil {
			t.Fatalf("opening ledger: %v", LedgerErr)
		}
	}

	prompts, err := core.NewPromptRenderer("", "progress.md", cfg.Agent.CompletionSentinel)
	if err != nil {
		t.Fatalf("creating prompt renderer: %v", err)
	}
	Prompts = prompts
	return dir
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	if args == nil {
		// A nil slice would make cobra fall back to os.Args.
		args = []string{}
	}
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs([]string{})
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeLoop returns a canned result.
type fakeLoop struct {
	res  *models.RunResult
	err  error
	opts core.RunOptions
}

func (f *fakeLoop) Run(_ context.Context, opts core.RunOptions) (*models.RunResult, error) {
	f.opts = opts
	return f.res, f.err
}

type fakeMetrics struct {
	metrics *observability.Metrics
	err     error
	since   time.Time
}

func (f *fakeMetrics) Calculate(since time.Time) (*observability.Metrics, error) {
	f.since = since
	return f.metrics, f.err
}

type fakeAlerts struct {
	alerts []observability.Alert
	err    error
}

func (f *fakeAlerts) Evaluate() ([]observability.Alert, error) {
	return f.alerts, f.err
}

type fakeNotifier struct {
	title  string
	alerts []observability.Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, title string, alerts []observability.Alert) error {
	f.title = title
	f.alerts = alerts
	return f.err
}
