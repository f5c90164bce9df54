package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ralph/internal/core"
)

var nextRaw bool

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Preview the next pending item and the prompt it would get",
	Long: `Show the first pending work item in ledger order and render the prompt the
next cycle would send to the agent. Nothing is run and nothing is written.

The prompt is rendered as markdown for the terminal; use --raw to print the
exact text sent to the agent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}
		if Prompts == nil {
			return fmt.Errorf("prompt renderer not initialized")
		}
		if err := Ledger.Reload(); err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}

		out := cmd.OutOrStdout()
		id, ok := Ledger.NextPending()
		if !ok {
			fmt.Fprintln(out, "All work complete.")
			return nil
		}

		item, err := Store.Get(id)
		if err != nil {
			return fmt.Errorf("loading work item %s: %w", id, err)
		}

		pc := core.PreviewContext(Ledger, item, core.RunOptionsFromConfig(Cfg))
		prompt, err := Prompts.Render(item, pc)
		if err != nil {
			return fmt.Errorf("rendering prompt for %s: %w", id, err)
		}

		if nextRaw {
			fmt.Fprint(out, prompt)
			return nil
		}

		fmt.Fprintf(out, "%s %s\n", summaryTitle.Render("Next:"), id)
		fmt.Fprintf(out, "Artifact: %s\n", pc.ArtifactPath)
		for _, key := range slices.Sorted(maps.Keys(item.Metadata)) {
			if v := item.MetadataString(key); v != "" {
				fmt.Fprintf(out, "  %s: %s\n", key, v)
			}
		}
		fmt.Fprintln(out, renderMarkdown(prompt))
		return nil
	},
}

// promptWrapWidth is the word wrap used for the rendered prompt preview.
const promptWrapWidth = 100

// renderMarkdown renders md for the terminal, returning it unchanged when
// the renderer fails.
func renderMarkdown(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(promptWrapWidth),
	)
	if err != nil {
		return md
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(rendered, "\n")
}

func init() {
	nextCmd.Flags().BoolVar(&nextRaw, "raw", false, "Print the prompt exactly as sent to the agent")
	rootCmd.AddCommand(nextCmd)
}
