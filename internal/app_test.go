package internal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/valter-silva-au/ralph/internal/cli"
	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/observability"
	"github.com/valter-silva-au/ralph/internal/storage"
	"github.com/valter-silva-au/ralph/pkg/models"
)

const appTestStore = `items:
  - id: CS-1-1
    category: lessons
    description: Variables and types
  - id: CS-1-2
    category: lessons
    description: Control flow
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newWorkspace creates a store and a fresh ledger in a temp directory.
func newWorkspace(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "prd.json"), appTestStore)
	if config != "" {
		writeFile(t, filepath.Join(dir, ".ralph.yaml"), config)
	}
	store, err := storage.LoadWorkItemStore(filepath.Join(dir, "prd.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.CreateLedger(filepath.Join(dir, "progress.md"), "Progress", store.Items()); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestApp(t *testing.T, dir string) *App {
	t.Helper()
	app, err := NewAppWithOptions(dir, Options{LogOutput: &bytes.Buffer{}, AgentOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestResolveBasePath_HomeSet(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(HomeEnv, tmpDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FindsConfig(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "sub", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tmpDir, ".ralph.yaml"), "max_iterations: 2\n")

	t.Setenv(HomeEnv, "")
	t.Chdir(subDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should find .ralph.yaml in parent)", got, tmpDir)
	}
}

func TestResolveBasePath_FallbackToCwd(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(HomeEnv, "")
	t.Chdir(tmpDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should fall back to cwd)", got, tmpDir)
	}
}

func TestNewApp_EmptyWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	app := newTestApp(t, tmpDir)

	if app.BasePath != tmpDir {
		t.Errorf("app.BasePath = %q, want %q", app.BasePath, tmpDir)
	}
	if app.Store != nil || app.StoreErr == nil {
		t.Error("expected a store error without prd.json")
	}
	if app.Ledger != nil || app.LedgerErr == nil {
		t.Error("expected a ledger error without progress.md")
	}
	if app.Loop != nil {
		t.Error("run loop should not be wired without a store and ledger")
	}
	if app.EventLog == nil || app.MetricsCalc == nil || app.AlertEngine == nil {
		t.Error("observability services should be wired")
	}
	if app.Notifier != nil || app.Exporter != nil || app.Committer != nil {
		t.Error("optional services should be off by default")
	}
	if cli.Cfg != app.Config || cli.StoreErr == nil {
		t.Error("CLI layer not initialized")
	}
}

func TestNewApp_FullWiring(t *testing.T) {
	dir := newWorkspace(t, `git:
  enabled: true
  message: "content: {id}"
metrics_textfile: metrics/ralph.prom
notifications:
  slack_webhook_url: https://hooks.slack.com/services/T/B/X
sanitize_artifacts: false
`)
	app := newTestApp(t, dir)

	if app.Store == nil || app.Ledger == nil || app.Loop == nil {
		t.Fatalf("workspace not wired: store=%v ledger=%v", app.StoreErr, app.LedgerErr)
	}
	if app.Committer == nil {
		t.Error("expected a git committer")
	}
	if app.Sanitizer != nil {
		t.Error("sanitizer should be disabled")
	}
	if app.Notifier == nil {
		t.Error("expected a Slack notifier")
	}
	if app.Exporter == nil || app.Exporter.Path() != filepath.Join(dir, "metrics", "ralph.prom") {
		t.Error("expected the textfile exporter under the workspace")
	}
	if cli.Loop != app.Loop || cli.Ledger != app.Ledger {
		t.Error("CLI layer not initialized")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	dir := newWorkspace(t, "max_iterations: 0\n")
	if _, err := NewAppWithOptions(dir, Options{LogOutput: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected validation error")
	} else if !strings.Contains(err.Error(), "max_iterations") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewApp_MissingPromptTemplate(t *testing.T) {
	dir := newWorkspace(t, "prompt_template_path: prompts/missing.tmpl\n")
	if _, err := NewAppWithOptions(dir, Options{LogOutput: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for a missing prompt template")
	}
}

func TestNewApp_EnvOverride(t *testing.T) {
	dir := newWorkspace(t, "max_iterations: 2\n")
	t.Setenv("RALPH_MAX_ITERATIONS", "7")

	app := newTestApp(t, dir)
	if app.Config.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", app.Config.MaxIterations)
	}
}

func TestEventLogAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	el, err := observability.NewJSONLEventLog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer el.Close()

	adapter := &eventLogAdapter{log: el}
	writes := []struct {
		typ  string
		data map[string]any
	}{
		{core.EventCycleStarted, map[string]any{"item_id": "CS-1-1"}},
		{core.EventCycleFailed, map[string]any{"item_id": "CS-1-1", "error": "no artifact"}},
		{core.EventRunFinished, map[string]any{"reason": "error", "error": "disk full"}},
		{core.EventRunFinished, map[string]any{"reason": "all_complete"}},
	}
	for _, w := range writes {
		if err := adapter.LogEvent(w.typ, w.data); err != nil {
			t.Fatalf("LogEvent(%s): %v", w.typ, err)
		}
	}

	events, err := el.Read(observability.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	wantLevels := []string{observability.LevelInfo, observability.LevelWarn, observability.LevelError, observability.LevelInfo}
	wantMsgs := []string{"cycle started for CS-1-1", "CS-1-1 failed", "run finished: error", "run finished: all_complete"}
	for i, e := range events {
		if e.Level != wantLevels[i] {
			t.Errorf("event %d level = %s, want %s", i, e.Level, wantLevels[i])
		}
		if e.Message != wantMsgs[i] {
			t.Errorf("event %d message = %q, want %q", i, e.Message, wantMsgs[i])
		}
	}
}

func TestApp_RunsLoopEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell as the agent")
	}
	dir := newWorkspace(t, `agent:
  command: sh
  args:
    - -c
    - 'cat >/dev/null; mkdir -p "$RALPH_OUTPUT_DIR" && printf "# %s\n" "$RALPH_ITEM_ID" > "$RALPH_ARTIFACT_PATH" && echo "Summary: wrote $RALPH_ITEM_ID"'
  prompt_mode: stdin
  timeout: 30s
`)
	app := newTestApp(t, dir)

	res, err := app.Loop.Run(context.Background(), core.RunOptionsFromConfig(app.Config))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != models.ReasonAllComplete {
		t.Fatalf("Reason = %s, warnings %v", res.Reason, res.Warnings)
	}
	if strings.Join(res.Completed, ",") != "CS-1-1,CS-1-2" {
		t.Errorf("Completed = %v", res.Completed)
	}
	for _, id := range res.Completed {
		if _, err := os.Stat(filepath.Join(dir, "content", id+".md")); err != nil {
			t.Errorf("artifact for %s: %v", id, err)
		}
	}

	ledger, err := storage.OpenLedger(filepath.Join(dir, "progress.md"))
	if err != nil {
		t.Fatal(err)
	}
	if p := ledger.Progress(); p.Pending != 0 || p.Completed != 2 {
		t.Errorf("ledger progress = %+v", p)
	}
	recs := ledger.LogRecords()
	if len(recs) != 2 || recs[1].Summary != "wrote CS-1-2" {
		t.Errorf("log records = %+v", recs)
	}

	m, err := app.MetricsCalc.Calculate(res.StartedAt.Add(-1))
	if err != nil {
		t.Fatal(err)
	}
	if m.Runs != 1 || m.ItemsCompleted != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestNewApp_ReadOnlyEventLog(t *testing.T) {
	dir := newWorkspace(t, "")
	// A file where the event log directory should be makes the log unwritable.
	writeFile(t, filepath.Join(dir, ".ralph"), "not a directory")

	app := newTestApp(t, dir)
	if app.eventsWritable {
		t.Fatal("event log should not be writable")
	}
	if app.MetricsCalc == nil || app.AlertEngine == nil {
		t.Fatal("metrics and alerts should still be wired")
	}
	if app.runLoopDeps().Events != nil {
		t.Error("run loop should not record events")
	}
}
