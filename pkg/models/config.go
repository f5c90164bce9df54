package models

import "time"

// Prompt delivery modes for the agent command.
const (
	PromptModeStdin = "stdin"
	PromptModeArg   = "arg"
)

// AgentConfig describes how the external content-production agent is invoked.
type AgentConfig struct {
	Command            string        `yaml:"command" mapstructure:"command"`
	Args               []string      `yaml:"args,omitempty" mapstructure:"args"`
	PromptMode         string        `yaml:"prompt_mode" mapstructure:"prompt_mode"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CompletionSentinel string        `yaml:"completion_sentinel" mapstructure:"completion_sentinel"`
}

// GitConfig controls the optional per-item commit.
type GitConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Message string `yaml:"message" mapstructure:"message"`
}

// NotificationConfig holds outbound notification settings.
type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url,omitempty" mapstructure:"slack_webhook_url"`
}

// Config holds every setting read from .ralph.yaml and RALPH_* variables.
// Relative paths are resolved against BasePath.
type Config struct {
	BasePath string `yaml:"-" mapstructure:"-"`

	StorePath     string `yaml:"store_path" mapstructure:"store_path"`
	LedgerPath    string `yaml:"ledger_path" mapstructure:"ledger_path"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	ArtifactExt   string `yaml:"artifact_ext" mapstructure:"artifact_ext"`
	EventLogPath  string `yaml:"event_log_path" mapstructure:"event_log_path"`
	MaxIterations int    `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxAttempts   int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailFast      bool   `yaml:"fail_fast" mapstructure:"fail_fast"`
	RecentLog     int    `yaml:"recent_log_records" mapstructure:"recent_log_records"`

	Agent              AgentConfig        `yaml:"agent" mapstructure:"agent"`
	PromptTemplatePath string             `yaml:"prompt_template_path,omitempty" mapstructure:"prompt_template_path"`
	SanitizeArtifacts  bool               `yaml:"sanitize_artifacts" mapstructure:"sanitize_artifacts"`
	Git                GitConfig          `yaml:"git" mapstructure:"git"`
	LogLevel           string             `yaml:"log_level" mapstructure:"log_level"`
	MetricsTextfile    string             `yaml:"metrics_textfile,omitempty" mapstructure:"metrics_textfile"`
	Notifications      NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
	MaxConsecutiveFail int                `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}
