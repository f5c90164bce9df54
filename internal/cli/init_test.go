package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/storage"
)

func TestInitCommand(t *testing.T) {
	dir := withWorkspace(t, "")

	out, err := runCommand(t, "init")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Created .ralph.yaml") || !strings.Contains(out, "Created progress.md with 3 pending item(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	cfg, err := core.NewConfigurationManager(dir).Load()
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if err := core.NewConfigurationManager(dir).ValidateConfig(cfg); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
	if cfg.Agent.Timeout != core.DefaultConfig().Agent.Timeout {
		t.Errorf("timeout = %s, want %s", cfg.Agent.Timeout, core.DefaultConfig().Agent.Timeout)
	}

	ledger, err := storage.OpenLedger(filepath.Join(dir, "progress.md"))
	if err != nil {
		t.Fatalf("opening created ledger: %v", err)
	}
	if p := ledger.Progress(); p.Total != 3 || p.Pending != 3 {
		t.Errorf("progress = %+v", p)
	}
	if id, _ := ledger.NextPending(); id != "CS-1-1" {
		t.Errorf("next = %q, want CS-1-1", id)
	}
}

func TestInitCommand_SkipsExisting(t *testing.T) {
	dir := withWorkspace(t, testLedger)
	writeTestFile(t, filepath.Join(dir, ".ralph.yaml"), "max_iterations: 3\n")

	out, err := runCommand(t, "init")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(out, "Skipped") != 2 {
		t.Errorf("expected both files skipped:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".ralph.yaml"))
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if string(data) != "max_iterations: 3\n" {
		t.Errorf("config was overwritten: %q", data)
	}
	ledger, err := os.ReadFile(filepath.Join(dir, "progress.md"))
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	if string(ledger) != testLedger {
		t.Error("ledger was overwritten")
	}
}

func TestInitCommand_NoStore(t *testing.T) {
	withWorkspace(t, "")
	Store, StoreErr = nil, os.ErrNotExist

	_, err := runCommand(t, "init")
	if err == nil || !strings.Contains(err.Error(), "loading work item store") {
		t.Fatalf("expected store error, got %v", err)
	}
}
