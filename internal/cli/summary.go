package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/ralph/pkg/models"
)

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// notifyTimeout bounds the post-run Slack request, which runs even when the
// run itself was interrupted.
const notifyTimeout = 15 * time.Second

func printRunSummary(w io.Writer, res *models.RunResult) {
	reason := string(res.Reason)
	if res.Reason.Success() {
		reason = okStyle.Render(reason)
	} else {
		reason = failStyle.Render(reason)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, summaryTitle.Render("Run summary"))
	fmt.Fprintf(w, "  %-12s %s\n", "Run:", shortID(res.RunID))
	fmt.Fprintf(w, "  %-12s %s\n", "Result:", reason)
	fmt.Fprintf(w, "  %-12s %d\n", "Cycles:", res.Cycles)
	if !res.EndedAt.IsZero() && !res.StartedAt.IsZero() {
		fmt.Fprintf(w, "  %-12s %s\n", "Elapsed:", res.EndedAt.Sub(res.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "  %-12s %s\n", "Completed:", idList(res.Completed))
	if len(res.Failed) > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", "Failed:", failStyle.Render(strings.Join(res.Failed, ", ")))
	}
	p := res.Progress
	fmt.Fprintf(w, "  %-12s %d/%d done, %d pending (%.0f%%)\n", "Progress:", p.Completed, p.Total, p.Pending, p.Percent())

	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "\n  %s\n", warnStyle.Render(fmt.Sprintf("%d warning(s):", len(res.Warnings))))
		for _, warning := range res.Warnings {
			fmt.Fprintf(w, "    - %s\n", warning)
		}
	}
}

// afterRun refreshes the metrics textfile and posts any alerts. Both are best
// effort and only log on failure.
func afterRun(ctx context.Context, res *models.RunResult) {
	if Exporter != nil && MetricsCalc != nil {
		m, err := MetricsCalc.Calculate(time.Time{})
		if err == nil {
			err = Exporter.Export(m, res.Progress)
		}
		if err != nil && Logger != nil {
			Logger.Warn("metrics textfile not updated", "path", Exporter.Path(), "err", err)
		}
	}

	if Notifier != nil && AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err == nil && len(alerts) > 0 {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			err = Notifier.Notify(nctx, "ralph: "+filepath.Base(BasePath), alerts)
		}
		if err != nil && Logger != nil {
			Logger.Warn("alerts not sent", "err", err)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func idList(ids []string) string {
	if len(ids) == 0 {
		return dimStyle.Render("none")
	}
	return strings.Join(ids, ", ")
}
