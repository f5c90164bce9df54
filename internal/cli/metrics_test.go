package cli

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/ralph/internal/observability"
)

func TestMetricsCommand_NilCalculator(t *testing.T) {
	withWorkspace(t, testLedger)

	_, err := runCommand(t, "metrics")
	if err == nil || !strings.Contains(err.Error(), "metrics calculator not initialized") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetricsCommand_Table(t *testing.T) {
	withWorkspace(t, testLedger)
	last := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	MetricsCalc = &fakeMetrics{metrics: &observability.Metrics{
		Runs:              2,
		RunsByReason:      map[string]int{"all_complete": 1, "iteration_failed": 1},
		Cycles:            5,
		ItemsCompleted:    4,
		CycleFailures:     1,
		FailuresByItem:    map[string]int{"CS-2-1": 1},
		MeanCycleDuration: 42 * time.Second,
		EventCount:        17,
		LastRunAt:         &last,
		LastRunReason:     "all_complete",
	}}

	out, err := runCommand(t, "metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Runs:", "Success rate:", "80%", "42s", "iteration_failed:", "CS-2-1:", "2025-03-01T09:00:00Z (all_complete)"} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsCommand_JSONAll(t *testing.T) {
	withWorkspace(t, testLedger)
	t.Cleanup(func() { metricsJSON, metricsSince = false, "7d" })
	calc := &fakeMetrics{metrics: &observability.Metrics{Runs: 3}}
	MetricsCalc = calc

	out, err := runCommand(t, "metrics", "--json", "--since", "all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calc.since.IsZero() {
		t.Errorf("--since all should not bound the window, got %s", calc.since)
	}
	var m observability.Metrics
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decoding JSON: %v\n%s", err, out)
	}
	if m.Runs != 3 {
		t.Errorf("runs = %d, want 3", m.Runs)
	}
}

func TestParseSinceDuration(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
		zero    bool
	}{
		{"7d", false, false},
		{"24h", false, false},
		{"", false, false},
		{"all", false, true},
		{"xd", true, false},
		{"5w", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSinceDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSinceDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.IsZero() != tt.zero {
				t.Errorf("parseSinceDuration(%q) = %s", tt.input, got)
			}
		})
	}
}
