package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/ralph/internal/observability"
)

func sampleAlerts() []observability.Alert {
	return []observability.Alert{{
		ID:          "failing-CS-2-1",
		Condition:   "item_failing_repeatedly",
		Severity:    observability.SeverityHigh,
		Message:     "item CS-2-1 failed 3 cycles in a row",
		TriggeredAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}}
}

func TestAlertsCommand_NilEngine(t *testing.T) {
	withWorkspace(t, testLedger)
	if _, err := runCommand(t, "alerts"); err == nil {
		t.Fatal("expected error when alert engine is nil")
	}
}

func TestAlertsCommand_None(t *testing.T) {
	withWorkspace(t, testLedger)
	AlertEngine = &fakeAlerts{}

	out, err := runCommand(t, "alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No active alerts.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAlertsCommand_List(t *testing.T) {
	withWorkspace(t, testLedger)
	AlertEngine = &fakeAlerts{alerts: sampleAlerts()}

	out, err := runCommand(t, "alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1 active alert(s)") || !strings.Contains(out, "[HIGH] item CS-2-1 failed") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAlertsCommand_Notify(t *testing.T) {
	withWorkspace(t, testLedger)
	t.Cleanup(func() { alertsNotify = false })
	AlertEngine = &fakeAlerts{alerts: sampleAlerts()}

	if _, err := runCommand(t, "alerts", "--notify"); err == nil || !strings.Contains(err.Error(), "no notifier configured") {
		t.Fatalf("expected missing notifier error, got %v", err)
	}

	notifier := &fakeNotifier{}
	Notifier = notifier
	out, err := runCommand(t, "alerts", "--notify")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Alerts sent.") || len(notifier.alerts) != 1 {
		t.Errorf("expected alerts to be sent, output:\n%s", out)
	}

	notifier.err = errors.New("403")
	if _, err := runCommand(t, "alerts", "--notify"); err == nil || !strings.Contains(err.Error(), "sending alerts") {
		t.Errorf("expected send error, got %v", err)
	}
}
