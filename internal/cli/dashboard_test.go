package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/observability"
	"github.com/valter-silva-au/ralph/pkg/models"
)

func loadedModel() dashboardModel {
	m := newDashboardModel(nil, "")
	m.loading = false
	m.width = 100
	m.height = 40
	m.progress = models.Progress{Total: 3, Pending: 2, Completed: 1}
	m.sections = []core.SectionSummary{
		{Name: "Lessons", Total: 2, Completed: 1},
		{Name: "Quizzes", Total: 1},
	}
	m.queue = []string{"CS-1-2", "CS-2-1"}
	m.recentLog = []models.LogRecord{{Time: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), ItemID: "CS-1-1", Summary: "Wrote the variables lesson"}}
	return m
}

func TestDashboardModel_Init(t *testing.T) {
	m := newDashboardModel(nil, "")

	if m.activePanel != panelProgress {
		t.Errorf("expected activePanel = %d, got %d", panelProgress, m.activePanel)
	}
	if !m.loading {
		t.Error("expected loading = true on init")
	}
	if cmd := m.Init(); cmd == nil {
		t.Error("expected Init to return a non-nil command")
	}
}

func TestDashboardModel_KeyQ(t *testing.T) {
	m := loadedModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected tea.Quit command from q key")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestDashboardModel_KeyEsc(t *testing.T) {
	m := loadedModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEscape})
	if cmd == nil {
		t.Fatal("expected tea.Quit command from esc key")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestDashboardModel_KeyTab(t *testing.T) {
	var model tea.Model = newDashboardModel(nil, "")
	want := []int{panelQueue, panelActivity, panelProgress}
	for i, w := range want {
		var cmd tea.Cmd
		model, cmd = model.Update(tea.KeyMsg{Type: tea.KeyTab})
		if cmd != nil {
			t.Error("expected no command from tab key")
		}
		if got := model.(dashboardModel).activePanel; got != w {
			t.Errorf("tab %d: panel = %d, want %d", i+1, got, w)
		}
	}
}

func TestDashboardModel_KeyShiftTab(t *testing.T) {
	m := newDashboardModel(nil, "")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if got := updated.(dashboardModel).activePanel; got != panelActivity {
		t.Errorf("expected panel %d after shift+tab, got %d", panelActivity, got)
	}
}

func TestDashboardModel_KeyR(t *testing.T) {
	m := loadedModel()

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Error("expected loadData command from r key")
	}
	if !updated.(dashboardModel).loading {
		t.Error("expected loading = true after refresh")
	}
}

func TestDashboardModel_DataLoaded(t *testing.T) {
	m := newDashboardModel(nil, "")
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	updated, cmd := m.Update(dataLoadedMsg{
		progress: models.Progress{Total: 3, Pending: 2, Completed: 1},
		sections: []core.SectionSummary{{Name: "Lessons", Total: 3, Completed: 1}},
		queue:    []string{"CS-1-2", "CS-2-1"},
		metrics:  &metricsSnapshot{runs: 2, cycles: 4},
		alerts:   []alertSnapshot{{severity: "high", message: "stalled"}},
		at:       at,
	})
	if cmd != nil {
		t.Error("expected no command after data load")
	}
	dm := updated.(dashboardModel)
	if dm.loading || dm.err != nil {
		t.Fatalf("unexpected state loading=%v err=%v", dm.loading, dm.err)
	}
	if dm.progress.Pending != 2 || len(dm.queue) != 2 || len(dm.sections) != 1 {
		t.Errorf("data not applied: %+v", dm)
	}
	if dm.metricsData == nil || dm.metricsData.runs != 2 || len(dm.alerts) != 1 {
		t.Error("metrics or alerts not applied")
	}
	if !dm.updatedAt.Equal(at) {
		t.Errorf("updatedAt = %s", dm.updatedAt)
	}
}

func TestDashboardModel_DataLoadedError(t *testing.T) {
	m := loadedModel()

	updated, _ := m.Update(dataLoadedMsg{err: errors.New("ledger gone")})
	dm := updated.(dashboardModel)
	if dm.err == nil || dm.loading {
		t.Fatal("expected error state")
	}
	if !strings.Contains(dm.View(), "Error: ledger gone") {
		t.Errorf("view should show the error:\n%s", dm.View())
	}
	// Earlier data is kept.
	if dm.progress.Total != 3 {
		t.Errorf("progress reset to %+v", dm.progress)
	}
}

func TestDashboardModel_WatchError(t *testing.T) {
	m := loadedModel()

	updated, _ := m.Update(watchErrMsg{err: errors.New("overflow")})
	if err := updated.(dashboardModel).err; err == nil || !strings.Contains(err.Error(), "watching ledger: overflow") {
		t.Errorf("unexpected err %v", err)
	}
}

func TestDashboardModel_WindowResize(t *testing.T) {
	m := newDashboardModel(nil, "")

	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 140, Height: 50})
	if cmd != nil {
		t.Error("expected no command from resize")
	}
	dm := updated.(dashboardModel)
	if dm.width != 140 || dm.height != 50 {
		t.Errorf("size = %dx%d", dm.width, dm.height)
	}
}

func TestDashboardModel_ViewLoading(t *testing.T) {
	m := newDashboardModel(nil, "")
	if got := m.View(); got != "Loading..." {
		t.Errorf("expected Loading... before the first resize, got %q", got)
	}

	m.width = 80
	if !strings.Contains(m.View(), "Loading data...") {
		t.Error("expected loading message")
	}
}

func TestDashboardModel_ViewWithData(t *testing.T) {
	m := loadedModel()
	m.metricsData = &metricsSnapshot{runs: 2, cycles: 5, failures: 1, meanCycle: 90 * time.Second, lastRunReason: "max_iterations"}
	m.alerts = []alertSnapshot{{severity: "medium", message: "no progress in 3 runs"}}

	view := m.View()
	for _, want := range []string{
		"ralph", "Progress", "1/3 done (33%)", "Lessons", "Quizzes",
		"Up next", "1. CS-1-2", "2. CS-2-1",
		"Activity", "CS-1-1 Wrote the variables lesson",
		"Runs 2 | cycles 5 | failed 1 | mean 1m30s", "Last run: max_iterations",
		"[MEDIUM] no progress in 3 runs",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "live") {
		t.Error("view should not claim live reload without a watcher")
	}
}

func TestDashboardModel_ViewHorizontalLayout(t *testing.T) {
	m := loadedModel()
	m.width = 200
	if !strings.Contains(m.View(), "Up next") {
		t.Error("expected the queue panel in the wide layout")
	}
}

func TestDashboardModel_QueuePanel(t *testing.T) {
	m := loadedModel()
	m.progress.Pending = 14
	if !strings.Contains(m.renderQueuePanel(), "... and 12 more") {
		t.Errorf("expected overflow line:\n%s", m.renderQueuePanel())
	}

	m.queue = nil
	if !strings.Contains(m.renderQueuePanel(), "All work complete.") {
		t.Error("expected completion message for an empty queue")
	}
}

func TestDashboardLoadData(t *testing.T) {
	withWorkspace(t, testLedger)
	MetricsCalc = &fakeMetrics{metrics: &observability.Metrics{Runs: 1, Cycles: 2, ItemsCompleted: 1, LastRunReason: "all_complete"}}
	AlertEngine = &fakeAlerts{alerts: []observability.Alert{
		{Severity: observability.SeverityLow, Message: "low one"},
		{Severity: observability.SeverityHigh, Message: "high one"},
	}}

	msg, ok := loadData().(dataLoadedMsg)
	if !ok {
		t.Fatal("expected dataLoadedMsg")
	}
	if msg.err != nil {
		t.Fatalf("unexpected error: %v", msg.err)
	}
	if msg.progress.Total != 3 || msg.progress.Completed != 1 {
		t.Errorf("progress = %+v", msg.progress)
	}
	if want := []string{"CS-1-2", "CS-2-1"}; strings.Join(msg.queue, ",") != strings.Join(want, ",") {
		t.Errorf("queue = %v, want %v", msg.queue, want)
	}
	if len(msg.sections) != 2 || msg.sections[0].Name != "Lessons" {
		t.Errorf("sections = %+v", msg.sections)
	}
	if len(msg.recentLog) != 1 || msg.recentLog[0].ItemID != "CS-1-1" {
		t.Errorf("recentLog = %+v", msg.recentLog)
	}
	if msg.metrics == nil || msg.metrics.cycles != 2 || msg.metrics.lastRunReason != "all_complete" {
		t.Errorf("metrics = %+v", msg.metrics)
	}
	if len(msg.alerts) != 2 || msg.alerts[0].severity != "high" {
		t.Errorf("alerts should be sorted high first: %+v", msg.alerts)
	}
}

func TestDashboardLoadData_Errors(t *testing.T) {
	withWorkspace(t, "")
	if msg := loadData().(dataLoadedMsg); msg.err == nil {
		t.Error("expected error without a ledger")
	}

	withWorkspace(t, testLedger)
	MetricsCalc = &fakeMetrics{err: errors.New("corrupt")}
	if msg := loadData().(dataLoadedMsg); msg.err == nil || !strings.Contains(msg.err.Error(), "loading metrics") {
		t.Errorf("expected metrics error, got %v", msg.err)
	}

	MetricsCalc = nil
	AlertEngine = &fakeAlerts{err: errors.New("corrupt")}
	if msg := loadData().(dataLoadedMsg); msg.err == nil || !strings.Contains(msg.err.Error(), "loading alerts") {
		t.Errorf("expected alerts error, got %v", msg.err)
	}
}

func TestWaitForLedgerChange(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "progress.md")

	w, err := newLedgerWatcher(ledgerPath)
	if err != nil {
		t.Fatalf("newLedgerWatcher: %v", err)
	}
	defer w.Close()

	got := make(chan tea.Msg, 1)
	go func() { got <- waitForLedgerChange(w, ledgerPath)() }()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ledgerPath, []byte(testLedger), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		if _, ok := msg.(ledgerChangedMsg); !ok {
			t.Errorf("expected ledgerChangedMsg, got %T", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ledger change")
	}
}

func TestWaitForLedgerChange_NilWatcher(t *testing.T) {
	if waitForLedgerChange(nil, "progress.md") != nil {
		t.Error("expected nil command without a watcher")
	}
}

func TestDashboardCmd_RequiresLedger(t *testing.T) {
	withWorkspace(t, "")
	if _, err := runCommand(t, "dashboard"); err == nil {
		t.Error("expected error without a ledger")
	}
}
