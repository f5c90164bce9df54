package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// CLIExecConfig holds all parameters needed to execute an external CLI tool.
type CLIExecConfig struct {
	CLI     string
	Args    []string
	ItemCtx *ItemEnvContext // nil outside a loop cycle
	Dir     string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	// WaitDelay bounds how long Exec waits for output pipes after the
	// process is killed on cancellation. Zero means five seconds.
	WaitDelay time.Duration
}

// ItemEnvContext carries work item information to inject as environment variables.
type ItemEnvContext struct {
	ItemID       string
	ArtifactPath string
	OutputDir    string
	RunID        string
}

// CLIExecResult captures the outcome of an external CLI invocation.
type CLIExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CLIExecutor defines the interface for invoking external CLI tools with
// work item context injection.
type CLIExecutor interface {
	// Exec runs the CLI until it exits or ctx is done. A non-zero exit code
	// is reported in the result, not as an error.
	Exec(ctx context.Context, config CLIExecConfig) (*CLIExecResult, error)
	// BuildEnv constructs the subprocess environment with item context variables injected.
	BuildEnv(base []string, itemCtx *ItemEnvContext) []string
}

// cliExecutor implements CLIExecutor.
type cliExecutor struct{}

// NewCLIExecutor creates a new CLIExecutor.
func NewCLIExecutor() CLIExecutor {
	return &cliExecutor{}
}

// BuildEnv appends RALPH_* environment variables to the base environment when
// an item context is provided. When itemCtx is nil, the base is returned unchanged.
func (e *cliExecutor) BuildEnv(base []string, itemCtx *ItemEnvContext) []string {
	if itemCtx == nil {
		return base
	}
	env := make([]string, len(base), len(base)+4)
	copy(env, base)
	env = append(env,
		"RALPH_ITEM_ID="+itemCtx.ItemID,
		"RALPH_ARTIFACT_PATH="+itemCtx.ArtifactPath,
		"RALPH_OUTPUT_DIR="+itemCtx.OutputDir,
		"RALPH_RUN_ID="+itemCtx.RunID,
	)
	return env
}

// containsPipe returns true if any argument is the pipe character "|".
func containsPipe(args []string) bool {
	for _, a := range args {
		if a == "|" {
			return true
		}
	}
	return false
}

// Exec builds the environment and runs the external CLI.
// If the arguments contain a pipe character, the full command is delegated to
// the system shell (sh -c on Linux/Mac, cmd /c on Windows).
func (e *cliExecutor) Exec(ctx context.Context, config CLIExecConfig) (*CLIExecResult, error) {
	var cmd *exec.Cmd

	if containsPipe(config.Args) {
		// Delegate to system shell for pipe support.
		parts := append([]string{config.CLI}, config.Args...)
		cmdLine := strings.Join(parts, " ")
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd", "/c", cmdLine)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", cmdLine)
		}
	} else {
		cmd = exec.CommandContext(ctx, config.CLI, config.Args...)
	}

	cmd.Env = e.BuildEnv(os.Environ(), config.ItemCtx)
	cmd.Dir = config.Dir
	cmd.WaitDelay = config.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	// Set up I/O. We always capture stdout/stderr for the result,
	// but also tee to the provided writers if set.
	var stdoutBuf, stderrBuf bytes.Buffer

	if config.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, config.Stdout)
	} else {
		cmd.Stdout = &stdoutBuf
	}

	if config.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, config.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}

	if config.Stdin != nil {
		cmd.Stdin = config.Stdin
	}

	start := time.Now()
	err := cmd.Run()

	result := &CLIExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("executing %s: %w", config.CLI, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Command could not be started (e.g., not found).
			return result, fmt.Errorf("executing %s: %w", config.CLI, err)
		}
	}

	return result, nil
}
