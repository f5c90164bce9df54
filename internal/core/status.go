package core

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/valter-silva-au/ralph/pkg/models"
)

// SectionSummary is the progress of one ledger section.
type SectionSummary struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// SectionProgress groups entries by the heading they appear under, in the
// order sections first appear. Entries above any heading are grouped under "".
func SectionProgress(entries []models.ProgressEntry) []SectionSummary {
	var out []SectionSummary
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.Section]
		if !ok {
			i = len(out)
			index[e.Section] = i
			out = append(out, SectionSummary{Name: e.Section})
		}
		out[i].Total++
		if e.Completed() {
			out[i].Completed++
		}
	}
	return out
}

// ItemIndex reports whether a work item exists.
type ItemIndex interface {
	Has(id string) bool
}

// AuditReport lists disagreements between the ledger, the store and the
// artifacts on disk. None of them stop the loop; they are for the operator.
type AuditReport struct {
	// Orphans are artifact files that no completed ledger entry accounts for,
	// relative to the output directory.
	Orphans []string `json:"orphans,omitempty"`
	// SetAside are stale artifacts renamed by an earlier cycle.
	SetAside []string `json:"set_aside,omitempty"`
	// MissingArtifacts are completed ids whose artifact is not on disk.
	MissingArtifacts []string `json:"missing_artifacts,omitempty"`
	// UnknownIDs are ledger ids absent from the work item store.
	UnknownIDs []string `json:"unknown_ids,omitempty"`
}

// Clean reports whether the audit found nothing.
func (r *AuditReport) Clean() bool {
	return len(r.Orphans) == 0 && len(r.SetAside) == 0 &&
		len(r.MissingArtifacts) == 0 && len(r.UnknownIDs) == 0
}

// AuditArtifacts cross-checks ledger entries against the store and the
// artifacts under outputDir. A missing output directory is not an error.
func AuditArtifacts(entries []models.ProgressEntry, items ItemIndex, outputDir, ext string) (*AuditReport, error) {
	report := &AuditReport{}

	completed := make(map[string]bool)
	for _, e := range entries {
		if items != nil && !items.Has(e.ID) {
			report.UnknownIDs = append(report.UnknownIDs, e.ID)
		}
		if e.Completed() {
			completed[e.ID] = true
		}
	}

	onDisk := make(map[string]bool)
	if _, err := os.Stat(outputDir); err == nil {
		fsys := os.DirFS(outputDir)
		err := doublestar.GlobWalk(fsys, "**/*", func(p string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			if strings.HasSuffix(p, OrphanSuffix) {
				report.SetAside = append(report.SetAside, p)
				return nil
			}
			if ext != "" && !strings.HasSuffix(p, ext) {
				return nil
			}
			id := strings.TrimSuffix(p, ext)
			if path.Dir(p) == "." && completed[id] {
				onDisk[id] = true
				return nil
			}
			report.Orphans = append(report.Orphans, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning output directory: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking output directory: %w", err)
	}

	for _, e := range entries {
		if e.Completed() && !onDisk[e.ID] {
			report.MissingArtifacts = append(report.MissingArtifacts, e.ID)
		}
	}

	sort.Strings(report.Orphans)
	sort.Strings(report.SetAside)
	return report, nil
}

// PreviewContext builds the produce context the next cycle would receive for
// item, without starting a run.
func PreviewContext(ledger ProgressLedger, item models.WorkItem, opts RunOptions) models.ProduceContext {
	return models.ProduceContext{
		ArtifactPath: ArtifactPath(opts.OutputDir, item.ID, opts.ArtifactExt),
		OutputDir:    opts.OutputDir,
		RecentLog:    ledger.RecentLogRecords(opts.RecentLog),
		Progress:     ledger.Progress(),
		Iteration:    1,
		Attempt:      1,
	}
}
