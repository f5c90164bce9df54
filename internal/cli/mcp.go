package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	ralphmcp "github.com/valter-silva-au/ralph/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the read-only ralph MCP server on stdio",
	Long: `Start the ralph MCP (Model Context Protocol) server on stdio transport.

The server lets the agent look at progress while it works: get_progress,
get_next_item, get_work_item, get_recent_log, get_metrics and get_alerts.
It cannot mark items complete; only the run loop does that, after it has
verified the artifact.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}

		srv := ralphmcp.NewServer(Ledger, Store, MetricsCalc, AlertEngine, appVersion)

		if err := srv.Run(commandContext(cmd)); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
