package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/pkg/models"
)

var statusJSON bool

type statusReport struct {
	StorePath  string                `json:"store"`
	LedgerPath string                `json:"ledger"`
	Progress   models.Progress       `json:"progress"`
	NextID     string                `json:"next_id,omitempty"`
	Sections   []core.SectionSummary `json:"sections"`
	Categories map[string]int        `json:"categories"`
	Audit      *core.AuditReport     `json:"audit"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger progress and audit artifacts on disk",
	Long: `Show progress per ledger section and the next pending item, then audit
the output directory against the ledger and the work item store.

The audit lists artifacts no completed entry accounts for, stale artifacts
set aside by an earlier interrupted cycle, completed entries whose artifact is
missing, and ledger IDs absent from the store. None of these stop the loop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}
		if err := Ledger.Reload(); err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}

		entries := Ledger.Entries()
		audit, err := core.AuditArtifacts(entries, Store, Cfg.OutputDir, Cfg.ArtifactExt)
		if err != nil {
			return fmt.Errorf("auditing artifacts: %w", err)
		}

		report := statusReport{
			StorePath:  Store.Source(),
			LedgerPath: Ledger.Path(),
			Progress:   Ledger.Progress(),
			Sections:   core.SectionProgress(entries),
			Categories: Store.Categories(),
			Audit:      audit,
		}
		if id, ok := Ledger.NextPending(); ok {
			report.NextID = id
		}

		if statusJSON {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting status as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		printStatus(cmd.OutOrStdout(), report)
		return nil
	},
}

func printStatus(w io.Writer, r statusReport) {
	p := r.Progress
	fmt.Fprintln(w, summaryTitle.Render("Progress"))
	fmt.Fprintf(w, "  %d/%d done, %d pending (%.0f%%)\n", p.Completed, p.Total, p.Pending, p.Percent())
	fmt.Fprintf(w, "  Ledger: %s\n  Store:  %s\n", r.LedgerPath, r.StorePath)
	if r.NextID != "" {
		fmt.Fprintf(w, "  Next: %s\n", r.NextID)
	} else {
		fmt.Fprintf(w, "  %s\n", okStyle.Render("All work complete."))
	}

	if len(r.Sections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %-32s %s\n", "SECTION", "DONE")
		for _, s := range r.Sections {
			name := s.Name
			if name == "" {
				name = "(untitled)"
			}
			fmt.Fprintf(w, "  %-32s %d/%d\n", name, s.Completed, s.Total)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, summaryTitle.Render("Audit"))
	if r.Audit.Clean() {
		fmt.Fprintf(w, "  %s\n", okStyle.Render("Ledger, store and artifacts agree."))
		return
	}
	printAuditGroup(w, "Ledger IDs missing from the store", r.Audit.UnknownIDs)
	printAuditGroup(w, "Completed without an artifact", r.Audit.MissingArtifacts)
	printAuditGroup(w, "Artifacts with no completed entry", r.Audit.Orphans)
	printAuditGroup(w, "Stale artifacts set aside", r.Audit.SetAside)
}

func printAuditGroup(w io.Writer, title string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s (%d):\n", warnStyle.Render(title), len(values))
	for _, v := range values {
		fmt.Fprintf(w, "    %s\n", v)
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}
