package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ralph/internal/core"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Produce one content artifact per work item with an AI agent, resumably",
	Long: `ralph repeatedly invokes an AI agent CLI to produce one markdown artifact
per work item. Progress lives in a human-editable checklist (the ledger): each
cycle picks the first unchecked item, has the agent write its file, verifies the
file exists, then ticks the box and appends a log line.

Run it with no arguments to work through the ledger. It stops when every item
is done, after max_iterations cycles, or when a cycle fails. Interrupting it is
safe: the next run resumes from the first unchecked item.

Configuration is read from .ralph.yaml and RALPH_* environment variables.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoop,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ralph %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func runLoop(cmd *cobra.Command, _ []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}
	if Loop == nil {
		return fmt.Errorf("run loop not initialized")
	}

	ctx := commandContext(cmd)
	res, err := Loop.Run(ctx, core.RunOptionsFromConfig(Cfg))
	if res != nil {
		printRunSummary(cmd.OutOrStdout(), res)
		afterRun(ctx, res)
	}
	if err != nil {
		return err
	}
	if !res.Reason.Success() {
		return fmt.Errorf("run ended with %s", res.Reason)
	}
	return nil
}

// commandContext returns the command's context, or Background when the
// command was invoked without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// requireWorkspace reports why the store or ledger is unavailable.
func requireWorkspace() error {
	if Cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if Store == nil {
		if StoreErr != nil {
			return fmt.Errorf("loading work item store: %w", StoreErr)
		}
		return fmt.Errorf("work item store not initialized")
	}
	if Ledger == nil {
		if LedgerErr != nil {
			return fmt.Errorf("opening progress ledger: %w", LedgerErr)
		}
		return fmt.Errorf("progress ledger not initialized")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which interrupts cancel.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
