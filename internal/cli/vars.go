package cli

import (
	"github.com/charmbracelet/log"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/internal/observability"
	"github.com/valter-silva-au/ralph/internal/storage"
	"github.com/valter-silva-au/ralph/pkg/models"
)

// Workspace state, set during app initialization in app.go. Store and Ledger
// are nil when they could not be opened; StoreErr and LedgerErr say why.
var (
	BasePath  string
	Cfg       *models.Config
	Logger    *log.Logger
	Store     *storage.WorkItemStore
	StoreErr  error
	Ledger    *storage.Ledger
	LedgerErr error
	Loop      core.RunLoop
	Prompts   core.PromptRenderer
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
	Exporter    *observability.TextfileExporter
)
