// Package internal provides the App struct that wires all components of
// ralph together and initializes the CLI layer.
package internal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/valter-silva-au/ralph/internal/cli"
	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/integration"
	"github.com/valter-silva-au/ralph/internal/observability"
	"github.com/valter-silva-au/ralph/internal/storage"
	"github.com/valter-silva-au/ralph/pkg/models"
)

// HomeEnv overrides workspace discovery.
const HomeEnv = "RALPH_HOME"

// configExtensions are the config file extensions ResolveBasePath looks for.
var configExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// App holds all service dependencies of a ralph workspace.
type App struct {
	BasePath string
	Config   *models.Config
	Logger   *log.Logger

	// Storage layer. Store and Ledger are nil when they could not be opened.
	Store     *storage.WorkItemStore
	StoreErr  error
	Ledger    *storage.Ledger
	LedgerErr error

	// Core services
	Prompts core.PromptRenderer
	Loop    core.RunLoop

	// Integration services
	Executor  integration.CLIExecutor
	Producer  *integration.AgentProducer
	Sanitizer integration.ArtifactSanitizer
	Committer *integration.GitCommitter

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
	Exporter    *observability.TextfileExporter

	eventsWritable bool
}

// Options adjusts how NewApp wires the workspace.
type Options struct {
	// LogOutput receives diagnostic logs. Nil means stderr.
	LogOutput io.Writer
	// AgentOutput receives a live copy of the agent's output. Nil means stdout.
	AgentOutput io.Writer
}

// NewApp creates and wires all components for the workspace at basePath.
// A missing work item store or ledger is not an error; commands that need
// them report it.
func NewApp(basePath string) (*App, error) {
	return NewAppWithOptions(basePath, Options{})
}

// NewAppWithOptions is NewApp with explicit output streams.
func NewAppWithOptions(basePath string, opts Options) (*App, error) {
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.AgentOutput == nil {
		opts.AgentOutput = os.Stdout
	}

	app := &App{BasePath: basePath}

	// --- Configuration ---
	cfgMgr := core.NewConfigurationManager(basePath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, err
	}
	if err := cfgMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	app.Logger = log.NewWithOptions(opts.LogOutput, log.Options{
		Level:           level,
		Prefix:          "ralph",
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Formatter:       log.TextFormatter,
	})

	// --- Storage ---
	app.Store, app.StoreErr = storage.LoadWorkItemStore(cfg.StorePath)
	app.Ledger, app.LedgerErr = storage.OpenLedger(cfg.LedgerPath)
	if app.StoreErr != nil {
		app.Logger.Debug("work item store unavailable", "path", cfg.StorePath, "err", app.StoreErr)
	}
	if app.LedgerErr != nil {
		app.Logger.Debug("progress ledger unavailable", "path", cfg.LedgerPath, "err", app.LedgerErr)
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(cfg.EventLogPath)
	if err != nil {
		// Metrics and alerts still read whatever history exists.
		app.Logger.Warn("event log not writable, runs will not be recorded", "path", cfg.EventLogPath, "err", err)
		app.EventLog = observability.OpenEventLogReader(cfg.EventLogPath)
	} else {
		app.eventsWritable = true
	}
	thresholds := observability.DefaultAlertThresholds()
	thresholds.MaxConsecutiveFailures = cfg.MaxConsecutiveFail
	app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
	app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	if cfg.Notifications.SlackWebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	}
	if cfg.MetricsTextfile != "" {
		app.Exporter = observability.NewTextfileExporter(cfg.MetricsTextfile)
	}

	// --- Production ---
	app.Prompts, err = core.LoadPromptRenderer(cfg.PromptTemplatePath, filepath.Base(cfg.LedgerPath), cfg.Agent.CompletionSentinel)
	if err != nil {
		return nil, err
	}
	app.Executor = integration.NewCLIExecutor()
	app.Producer = integration.NewAgentProducer(app.Executor, app.Prompts, cfg.Agent, basePath, opts.AgentOutput)
	if cfg.SanitizeArtifacts {
		app.Sanitizer = integration.NewArtifactSanitizer()
	}
	if cfg.Git.Enabled {
		app.Committer = integration.NewGitCommitter(app.Executor, basePath, cfg.Git.Message, cfg.LedgerPath)
	}

	if app.Store != nil && app.Ledger != nil {
		app.Loop = core.NewRunLoop(app.runLoopDeps())
	}

	app.publish()
	return app, nil
}

// runLoopDeps collects the loop's collaborators, leaving optional ones as
// nil interfaces when disabled.
func (a *App) runLoopDeps() core.RunLoopDeps {
	deps := core.RunLoopDeps{
		Store:    a.Store,
		Ledger:   a.Ledger,
		Producer: a.Producer,
		Logger:   a.Logger,
	}
	if a.Sanitizer != nil {
		deps.Sanitizer = a.Sanitizer
	}
	if a.Committer != nil {
		deps.Committer = a.Committer
	}
	if a.eventsWritable {
		deps.Events = &eventLogAdapter{log: a.EventLog}
	}
	return deps
}

// publish hands the wired services to the CLI layer.
func (a *App) publish() {
	cli.BasePath = a.BasePath
	cli.Cfg = a.Config
	cli.Logger = a.Logger
	cli.Store, cli.StoreErr = a.Store, a.StoreErr
	cli.Ledger, cli.LedgerErr = a.Ledger, a.LedgerErr
	cli.Prompts = a.Prompts
	cli.Loop = a.Loop

	cli.EventLog = a.EventLog
	cli.AlertEngine = a.AlertEngine
	cli.MetricsCalc = a.MetricsCalc
	cli.Notifier = a.Notifier
	cli.Exporter = a.Exporter
}

// Close releases resources held by the App.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the workspace directory. RALPH_HOME wins;
// otherwise the nearest directory at or above the working directory that
// holds a .ralph config file; otherwise the working directory.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	for dir := cwd; ; {
		if hasConfigFile(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}

func hasConfigFile(dir string) bool {
	for _, ext := range configExtensions {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName+ext)); err == nil {
			return true
		}
	}
	return false
}

// eventLogAdapter bridges observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   eventLevel(eventType, data),
		Type:    eventType,
		Message: eventMessage(eventType, data),
		Data:    data,
	})
}

func eventLevel(eventType string, data map[string]any) string {
	switch eventType {
	case core.EventCycleFailed:
		return observability.LevelWarn
	case core.EventRunFinished:
		if _, failed := data["error"]; failed {
			return observability.LevelError
		}
	}
	return observability.LevelInfo
}

func eventMessage(eventType string, data map[string]any) string {
	id, _ := data["item_id"].(string)
	switch eventType {
	case core.EventRunStarted:
		return "run started"
	case core.EventCycleStarted:
		return fmt.Sprintf("cycle started for %s", id)
	case core.EventCycleCompleted:
		return fmt.Sprintf("%s completed", id)
	case core.EventCycleFailed:
		return fmt.Sprintf("%s failed", id)
	case core.EventRunFinished:
		return fmt.Sprintf("run finished: %v", data["reason"])
	default:
		return eventType
	}
}
