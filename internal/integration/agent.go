package integration

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/valter-silva-au/ralph/pkg/models"
)

// PromptRenderer renders the prompt sent to the agent.
type PromptRenderer interface {
	Render(item models.WorkItem, pc models.ProduceContext) (string, error)
}

// summaryLine matches an optional "Summary: ..." line in agent output. The
// last one wins and becomes the ledger log text.
var summaryLine = regexp.MustCompile(`(?im)^\s*(?:\*\*)?summary(?:\*\*)?\s*:\s*(.+?)\s*$`)

// AgentProducer produces artifacts by running an external agent CLI with a
// rendered prompt.
type AgentProducer struct {
	executor CLIExecutor
	renderer PromptRenderer
	cfg      models.AgentConfig
	dir      string
	output   io.Writer
}

// NewAgentProducer creates an AgentProducer. dir is the agent's working
// directory; output, when non-nil, receives a live copy of the agent's
// stdout and stderr.
func NewAgentProducer(executor CLIExecutor, renderer PromptRenderer, cfg models.AgentConfig, dir string, output io.Writer) *AgentProducer {
	return &AgentProducer{
		executor: executor,
		renderer: renderer,
		cfg:      cfg,
		dir:      dir,
		output:   output,
	}
}

// Command returns the argument vector used for a prompt, without running it.
func (a *AgentProducer) Command(prompt string) (string, []string) {
	args := make([]string, 0, len(a.cfg.Args)+1)
	args = append(args, a.cfg.Args...)
	if a.cfg.PromptMode == models.PromptModeArg {
		args = append(args, prompt)
	}
	return a.cfg.Command, args
}

// Produce renders the prompt for item and runs the agent until it exits or
// ctx is done.
func (a *AgentProducer) Produce(ctx context.Context, item models.WorkItem, pc models.ProduceContext) (models.ProduceResult, error) {
	prompt, err := a.renderer.Render(item, pc)
	if err != nil {
		return models.ProduceResult{}, err
	}

	cli, args := a.Command(prompt)
	cfg := CLIExecConfig{
		CLI:  cli,
		Args: args,
		ItemCtx: &ItemEnvContext{
			ItemID:       item.ID,
			ArtifactPath: pc.ArtifactPath,
			OutputDir:    pc.OutputDir,
			RunID:        pc.RunID,
		},
		Dir:    a.dir,
		Stdout: a.output,
		Stderr: a.output,
	}
	if a.cfg.PromptMode != models.PromptModeArg {
		cfg.Stdin = strings.NewReader(prompt)
	}

	res, err := a.executor.Exec(ctx, cfg)
	if err != nil {
		return models.ProduceResult{}, fmt.Errorf("running agent %s: %w", cli, err)
	}

	return models.ProduceResult{
		NoWorkRemaining: hasSentinelLine(res.Stdout, a.cfg.CompletionSentinel),
		Summary:         lastSummary(res.Stdout),
		ExitCode:        res.ExitCode,
		Output:          res.Stdout,
		Duration:        res.Duration,
	}, nil
}

// hasSentinelLine reports whether some line of out, once trimmed, is exactly
// sentinel. Quoted or echoed prompt text does not count.
func hasSentinelLine(out, sentinel string) bool {
	sentinel = strings.TrimSpace(sentinel)
	if sentinel == "" {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == sentinel {
			return true
		}
	}
	return false
}

func lastSummary(out string) string {
	matches := summaryLine.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}
