package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/ralph/internal/storage"
	"github.com/valter-silva-au/ralph/pkg/models"
	"pgregory.net/rapid"
)

// Feature: ralph, Property 4: Progress is monotonic across runs and completed
// items are never produced again
func TestRunLoop_MonotonicProgressAcrossRuns(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "items")
		ids := make([]string, n)
		var records []string
		var ledger strings.Builder
		ledger.WriteString("# Progress\n\n")
		for i := range ids {
			ids[i] = fmt.Sprintf("L-%02d", i)
			records = append(records, fmt.Sprintf(`{"id": %q}`, ids[i]))
			fmt.Fprintf(&ledger, "- [ ] %s\n", ids[i])
		}

		dir, err := os.MkdirTemp("", "runloop-prop-*")
		if err != nil {
			t.Fatal(err)
		}
		defer os.RemoveAll(dir)
		storePath := filepath.Join(dir, "prd.json")
		ledgerPath := filepath.Join(dir, "progress.md")
		if err := os.WriteFile(storePath, []byte("["+strings.Join(records, ",")+"]"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(ledgerPath, []byte(ledger.String()), 0o644); err != nil {
			t.Fatal(err)
		}
		store, err := storage.LoadWorkItemStore(storePath)
		if err != nil {
			t.Fatal(err)
		}

		completed := make(map[string]bool)
		runs := rapid.IntRange(1, 4).Draw(t, "runs")
		for run := 0; run < runs; run++ {
			l, err := storage.OpenLedger(ledgerPath)
			if err != nil {
				t.Fatal(err)
			}
			producer := &stubProducer{}
			producer.produce = func(_ context.Context, item models.WorkItem, pc models.ProduceContext) (models.ProduceResult, error) {
				if completed[item.ID] {
					t.Fatalf("run %d produced already completed item %s", run, item.ID)
				}
				if rapid.Bool().Draw(t, "succeeds") {
					return writeArtifact(pc, item.ID)
				}
				return models.ProduceResult{}, nil
			}
			loop := NewRunLoop(RunLoopDeps{Store: store, Ledger: l, Producer: producer})
			res, err := loop.Run(context.Background(), RunOptions{
				OutputDir:     filepath.Join(dir, "out"),
				ArtifactExt:   ".md",
				MaxIterations: rapid.IntRange(1, 5).Draw(t, "maxIterations"),
				MaxAttempts:   rapid.IntRange(1, 2).Draw(t, "maxAttempts"),
				FailFast:      rapid.Bool().Draw(t, "failFast"),
			})
			if err != nil {
				t.Fatalf("run %d: %v", run, err)
			}
			if res.Cycles != len(producer.calls) {
				t.Fatalf("cycles %d != producer calls %d", res.Cycles, len(producer.calls))
			}
			for _, id := range res.Completed {
				completed[id] = true
			}

			reopened, err := storage.OpenLedger(ledgerPath)
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range reopened.Entries() {
				if e.Completed() != completed[e.ID] {
					t.Fatalf("ledger status of %s = %s, tracked completed=%v", e.ID, e.Status, completed[e.ID])
				}
				if e.Completed() {
					if _, err := os.Stat(filepath.Join(dir, "out", e.ID+".md")); err != nil {
						t.Fatalf("completed %s has no artifact", e.ID)
					}
				}
			}
			if got := len(reopened.LogRecords()); got != len(completed) {
				t.Fatalf("log records = %d, completed = %d", got, len(completed))
			}
		}
	})
}
