package integration

import (
	"context"
	"fmt"
	"strings"

	"github.com/valter-silva-au/ralph/pkg/models"
)

// FormatCommitMessage applies a pattern with {id}, {category} and
// {description} placeholders for item.
func FormatCommitMessage(pattern string, item models.WorkItem) string {
	if pattern == "" {
		pattern = "content: add {id}"
	}
	desc := strings.Join(strings.Fields(item.Description), " ")
	result := pattern
	result = strings.ReplaceAll(result, "{id}", item.ID)
	result = strings.ReplaceAll(result, "{category}", item.Category)
	result = strings.ReplaceAll(result, "{description}", desc)
	return strings.TrimSpace(result)
}

// GitCommitter commits each completed artifact together with the ledger.
type GitCommitter struct {
	executor   CLIExecutor
	repoDir    string
	message    string
	extraPaths []string
}

// NewGitCommitter creates a GitCommitter for the repository at repoDir.
// extraPaths (typically the ledger) are staged with every commit.
func NewGitCommitter(executor CLIExecutor, repoDir, message string, extraPaths ...string) *GitCommitter {
	return &GitCommitter{
		executor:   executor,
		repoDir:    repoDir,
		message:    message,
		extraPaths: extraPaths,
	}
}

// Commit stages paths plus the extra paths and commits them. Nothing is
// committed when the index has no changes.
func (g *GitCommitter) Commit(ctx context.Context, item models.WorkItem, paths []string) error {
	all := make([]string, 0, len(paths)+len(g.extraPaths))
	all = append(all, paths...)
	all = append(all, g.extraPaths...)

	if _, err := g.git(ctx, append([]string{"add", "--"}, all...)...); err != nil {
		return err
	}

	// diff --cached --quiet exits 1 when something is staged.
	res, err := g.executor.Exec(ctx, CLIExecConfig{
		CLI:  "git",
		Args: append([]string{"diff", "--cached", "--quiet", "--"}, all...),
		Dir:  g.repoDir,
	})
	if err != nil {
		return fmt.Errorf("checking staged changes: %w", err)
	}
	if res.ExitCode == 0 {
		return nil
	}

	msg := FormatCommitMessage(g.message, item)
	if _, err := g.git(ctx, append([]string{"commit", "-m", msg, "--"}, all...)...); err != nil {
		return err
	}
	return nil
}

func (g *GitCommitter) git(ctx context.Context, args ...string) (*CLIExecResult, error) {
	res, err := g.executor.Exec(ctx, CLIExecConfig{CLI: "git", Args: args, Dir: g.repoDir})
	if err != nil {
		return nil, fmt.Errorf("running git %s: %w", args[0], err)
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("git %s exited with code %d: %s", args[0], res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}
