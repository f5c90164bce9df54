// Package core contains the business logic of ralph: configuration, prompt
// rendering and the run loop that selects, produces, verifies and commits
// one work item per cycle.
package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"github.com/valter-silva-au/ralph/pkg/models"
)

// ConfigFileName is the base name of the optional configuration file.
// Any extension viper understands (.yaml, .yml, .json, .toml) is accepted.
const ConfigFileName = ".ralph"

// EnvPrefix prefixes every environment override, e.g. RALPH_MAX_ITERATIONS.
const EnvPrefix = "RALPH"

// ConfigurationManager loads and validates ralph's configuration.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

// viperConfigManager implements ConfigurationManager using Viper. Values
// resolve as environment > config file > defaults.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that looks for the
// config file in basePath and resolves relative paths against it.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *models.Config {
	return &models.Config{
		StorePath:     "prd.json",
		LedgerPath:    "progress.md",
		OutputDir:     "content",
		ArtifactExt:   ".md",
		EventLogPath:  filepath.Join(".ralph", "events.jsonl"),
		MaxIterations: 10,
		MaxAttempts:   1,
		FailFast:      true,
		RecentLog:     5,
		Agent: models.AgentConfig{
			Command:            "claude",
			Args:               []string{"--print", "--dangerously-skip-permissions"},
			PromptMode:         models.PromptModeStdin,
			Timeout:            30 * time.Minute,
			CompletionSentinel: "<promise>COMPLETE</promise>",
		},
		SanitizeArtifacts: true,
		Git: models.GitConfig{
			Enabled: false,
			Message: "content: add {id} ({category})",
		},
		LogLevel:           "info",
		MaxConsecutiveFail: 3,
	}
}

func setDefaults(v *viper.Viper, cfg *models.Config) {
	v.SetDefault("store_path", cfg.StorePath)
	v.SetDefault("ledger_path", cfg.LedgerPath)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("artifact_ext", cfg.ArtifactExt)
	v.SetDefault("event_log_path", cfg.EventLogPath)
	v.SetDefault("max_iterations", cfg.MaxIterations)
	v.SetDefault("max_attempts", cfg.MaxAttempts)
	v.SetDefault("fail_fast", cfg.FailFast)
	v.SetDefault("recent_log_records", cfg.RecentLog)
	v.SetDefault("agent.command", cfg.Agent.Command)
	v.SetDefault("agent.args", cfg.Agent.Args)
	v.SetDefault("agent.prompt_mode", cfg.Agent.PromptMode)
	v.SetDefault("agent.timeout", cfg.Agent.Timeout)
	v.SetDefault("agent.completion_sentinel", cfg.Agent.CompletionSentinel)
	v.SetDefault("prompt_template_path", "")
	v.SetDefault("sanitize_artifacts", cfg.SanitizeArtifacts)
	v.SetDefault("git.enabled", cfg.Git.Enabled)
	v.SetDefault("git.message", cfg.Git.Message)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("notifications.slack_webhook_url", "")
	v.SetDefault("max_consecutive_failures", cfg.MaxConsecutiveFail)
}

// Load reads the optional config file and RALPH_* environment variables on
// top of DefaultConfig. A missing config file is not an error.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s config: %w", ConfigFileName, err)
		}
	}

	cfg.BasePath = cm.basePath
	cfg.StorePath = cm.resolve(v.GetString("store_path"))
	cfg.LedgerPath = cm.resolve(v.GetString("ledger_path"))
	cfg.OutputDir = cm.resolve(v.GetString("output_dir"))
	cfg.ArtifactExt = v.GetString("artifact_ext")
	cfg.EventLogPath = cm.resolve(v.GetString("event_log_path"))
	cfg.MaxIterations = v.GetInt("max_iterations")
	cfg.MaxAttempts = v.GetInt("max_attempts")
	cfg.FailFast = v.GetBool("fail_fast")
	cfg.RecentLog = v.GetInt("recent_log_records")

	cfg.Agent.Command = v.GetString("agent.command")
	cfg.Agent.Args = v.GetStringSlice("agent.args")
	cfg.Agent.PromptMode = strings.ToLower(v.GetString("agent.prompt_mode"))
	cfg.Agent.Timeout = v.GetDuration("agent.timeout")
	cfg.Agent.CompletionSentinel = v.GetString("agent.completion_sentinel")

	cfg.PromptTemplatePath = cm.resolve(v.GetString("prompt_template_path"))
	cfg.SanitizeArtifacts = v.GetBool("sanitize_artifacts")
	cfg.Git.Enabled = v.GetBool("git.enabled")
	cfg.Git.Message = v.GetString("git.message")
	cfg.LogLevel = v.GetString("log_level")
	cfg.MetricsTextfile = cm.resolve(v.GetString("metrics_textfile"))
	cfg.Notifications.SlackWebhookURL = v.GetString("notifications.slack_webhook_url")
	cfg.MaxConsecutiveFail = v.GetInt("max_consecutive_failures")

	return cfg, nil
}

func (cm *viperConfigManager) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cm.basePath, p)
}

// ValidateConfig checks cfg for invalid values and reports every problem
// in a single error.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.StorePath == "" {
		errs = append(errs, "store_path must not be empty")
	}
	if cfg.LedgerPath == "" {
		errs = append(errs, "ledger_path must not be empty")
	}
	if cfg.OutputDir == "" {
		errs = append(errs, "output_dir must not be empty")
	}
	if cfg.ArtifactExt != "" && (!strings.HasPrefix(cfg.ArtifactExt, ".") || strings.ContainsAny(cfg.ArtifactExt, `/\`)) {
		errs = append(errs, fmt.Sprintf("artifact_ext %q must start with a dot and contain no path separators", cfg.ArtifactExt))
	}
	if cfg.MaxIterations < 1 {
		errs = append(errs, fmt.Sprintf("max_iterations must be at least 1, got %d", cfg.MaxIterations))
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("max_attempts must be at least 1, got %d", cfg.MaxAttempts))
	}
	if cfg.RecentLog < 0 {
		errs = append(errs, fmt.Sprintf("recent_log_records must be non-negative, got %d", cfg.RecentLog))
	}
	if strings.TrimSpace(cfg.Agent.Command) == "" {
		errs = append(errs, "agent.command must not be empty")
	}
	if cfg.Agent.PromptMode != models.PromptModeStdin && cfg.Agent.PromptMode != models.PromptModeArg {
		errs = append(errs, fmt.Sprintf("agent.prompt_mode %q is invalid, must be one of: stdin, arg", cfg.Agent.PromptMode))
	}
	if cfg.Agent.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("agent.timeout must be non-negative, got %s", cfg.Agent.Timeout))
	}
	if cfg.Git.Enabled && !strings.Contains(cfg.Git.Message, "{id}") {
		errs = append(errs, fmt.Sprintf("git.message %q must contain {id} placeholder", cfg.Git.Message))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level %q is invalid: %v", cfg.LogLevel, err))
	}
	if cfg.MaxConsecutiveFail < 0 {
		errs = append(errs, fmt.Sprintf("max_consecutive_failures must be non-negative, got %d", cfg.MaxConsecutiveFail))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ArtifactPath returns the deterministic artifact location for id.
func ArtifactPath(outputDir, id, ext string) string {
	return filepath.Join(outputDir, id+ext)
}
