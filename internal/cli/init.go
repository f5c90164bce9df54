package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/storage"
)

var initTitle string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .ralph.yaml and create the ledger from the store",
	Long: `Prepare a workspace for ralph.

Writes .ralph.yaml with the default settings when it does not exist, then
creates the progress ledger from the work item store, listing every item as
pending under one heading per category. Existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		out := cmd.OutOrStdout()

		cfgPath := filepath.Join(BasePath, core.ConfigFileName+".yaml")
		created, err := writeDefaultConfig(cfgPath)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "Created %s\n", relToBase(cfgPath))
		} else {
			fmt.Fprintf(out, "Skipped %s (already exists)\n", relToBase(cfgPath))
		}

		if _, err := os.Stat(Cfg.LedgerPath); err == nil {
			fmt.Fprintf(out, "Skipped %s (already exists)\n", relToBase(Cfg.LedgerPath))
			return nil
		}
		if Store == nil {
			if StoreErr != nil {
				return fmt.Errorf("loading work item store: %w", StoreErr)
			}
			return fmt.Errorf("work item store not initialized")
		}

		if err := storage.CreateLedger(Cfg.LedgerPath, initTitle, Store.Items()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s with %d pending item(s)\n", relToBase(Cfg.LedgerPath), Store.Len())
		return nil
	},
}

// writeDefaultConfig writes the default configuration to path unless a file
// is already there.
func writeDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(core.DefaultConfig())
	if err != nil {
		return false, fmt.Errorf("marshaling default config: %w", err)
	}
	if err := storage.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

func relToBase(path string) string {
	if rel, err := filepath.Rel(BasePath, path); err == nil {
		return rel
	}
	return path
}

func init() {
	initCmd.Flags().StringVar(&initTitle, "title", "Progress", "Top-level heading of the new ledger")
	rootCmd.AddCommand(initCmd)
}
