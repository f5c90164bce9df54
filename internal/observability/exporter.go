package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/valter-silva-au/ralph/pkg/models"
)

// TextfileExporter writes run metrics in the Prometheus text exposition
// format, for collection by node_exporter's textfile collector.
type TextfileExporter struct {
	path string
}

// NewTextfileExporter creates an exporter that writes to path.
func NewTextfileExporter(path string) *TextfileExporter {
	return &TextfileExporter{path: path}
}

// Path returns the output file path.
func (e *TextfileExporter) Path() string {
	return e.path
}

// Export renders m and the current ledger progress into a fresh registry and
// writes it to the textfile. The file is replaced atomically.
func (e *TextfileExporter) Export(m *Metrics, progress models.Progress) error {
	if m == nil {
		m = &Metrics{}
	}

	reg := prometheus.NewRegistry()

	items := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ralph_items",
		Help: "Work items in the progress ledger by status.",
	}, []string{"status"})
	items.WithLabelValues(string(models.StatusPending)).Set(float64(progress.Pending))
	items.WithLabelValues(string(models.StatusCompleted)).Set(float64(progress.Completed))

	runs := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ralph_runs",
		Help: "Finished runs recorded in the event log by termination reason.",
	}, []string{"reason"})
	for reason, n := range m.RunsByReason {
		runs.WithLabelValues(reason).Set(float64(n))
	}

	cycles := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ralph_cycles",
		Help: "Cycles recorded in the event log by outcome.",
	}, []string{"outcome"})
	cycles.WithLabelValues("started").Set(float64(m.Cycles))
	cycles.WithLabelValues("completed").Set(float64(m.ItemsCompleted))
	cycles.WithLabelValues("failed").Set(float64(m.CycleFailures))

	meanDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ralph_cycle_duration_mean_seconds",
		Help: "Mean wall time of a finished cycle.",
	})
	meanDuration.Set(m.MeanCycleDuration.Seconds())

	successRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ralph_cycle_success_ratio",
		Help: "Completed cycles as a fraction of finished cycles.",
	})
	successRatio.Set(m.SuccessRate())

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ralph_last_run_timestamp_seconds",
		Help: "Unix time of the most recent finished run.",
	})
	if m.LastRunAt != nil {
		lastRun.Set(float64(m.LastRunAt.Unix()))
	}

	for _, c := range []prometheus.Collector{items, runs, cycles, meanDuration, successRatio, lastRun} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering metric: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(e.path, reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
