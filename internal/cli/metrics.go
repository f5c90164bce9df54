package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display run and cycle metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include runs by termination reason, cycles started, items completed,
cycle failures per item, and the mean cycle duration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (event log may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		window := "all time"
		if !sinceTime.IsZero() {
			window = "since " + sinceTime.Format("2006-01-02")
		}
		fmt.Fprintf(out, "Metrics (%s)\n\n", window)
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Runs:", metrics.Runs)
		fmt.Fprintf(out, "  %-24s %d\n", "Cycles:", metrics.Cycles)
		fmt.Fprintf(out, "  %-24s %d\n", "Items completed:", metrics.ItemsCompleted)
		fmt.Fprintf(out, "  %-24s %d\n", "Cycle failures:", metrics.CycleFailures)
		fmt.Fprintf(out, "  %-24s %.0f%%\n", "Success rate:", metrics.SuccessRate()*100)
		if metrics.MeanCycleDuration > 0 {
			fmt.Fprintf(out, "  %-24s %s\n", "Mean cycle:", metrics.MeanCycleDuration.Round(time.Second))
		}

		if len(metrics.RunsByReason) > 0 {
			fmt.Fprintln(out, "\n  Runs by reason:")
			for _, reason := range sortedKeys(metrics.RunsByReason) {
				fmt.Fprintf(out, "    %-20s %d\n", reason+":", metrics.RunsByReason[reason])
			}
		}

		if len(metrics.FailuresByItem) > 0 {
			fmt.Fprintln(out, "\n  Failures by item:")
			for _, id := range sortedKeys(metrics.FailuresByItem) {
				fmt.Fprintf(out, "    %-20s %d\n", id+":", metrics.FailuresByItem[id])
			}
		}

		if metrics.LastRunAt != nil {
			fmt.Fprintf(out, "\n  %-24s %s (%s)\n", "Last run:", metrics.LastRunAt.Format(time.RFC3339), metrics.LastRunReason)
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past. "all" means no
// lower bound.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}
	if s == "all" {
		return time.Time{}, nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h, all)", s)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h, all)")
	rootCmd.AddCommand(metricsCmd)
}
