package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ralph/internal/core"
	"github.com/valter-silva-au/ralph/pkg/models"
)

// Dashboard panel indices.
const (
	panelProgress = iota
	panelQueue
	panelActivity
	panelCount
)

// queueLimit caps how many pending ids the queue panel lists.
const queueLimit = 10

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	progress    models.Progress
	sections    []core.SectionSummary
	queue       []string
	recentLog   []models.LogRecord
	metricsData *metricsSnapshot
	alerts      []alertSnapshot
	updatedAt   time.Time

	// watcher is nil when live reload is unavailable.
	watcher *fsnotify.Watcher
	ledger  string

	// State.
	loading bool
	err     error
}

type metricsSnapshot struct {
	runs          int
	cycles        int
	completed     int
	failures      int
	meanCycle     time.Duration
	lastRunReason string
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	progress  models.Progress
	sections  []core.SectionSummary
	queue     []string
	recentLog []models.LogRecord
	metrics   *metricsSnapshot
	alerts    []alertSnapshot
	at        time.Time
	err       error
}

// ledgerChangedMsg is sent when the ledger file changes on disk.
type ledgerChangedMsg struct{}

// watchErrMsg reports a failure of the file watcher.
type watchErrMsg struct{ err error }

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	sectionDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	sectionPartial = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	sectionTodo    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel(watcher *fsnotify.Watcher, ledgerPath string) dashboardModel {
	return dashboardModel{
		activePanel: panelProgress,
		loading:     true,
		watcher:     watcher,
		ledger:      ledgerPath,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	if m.watcher == nil {
		return loadData
	}
	return tea.Batch(loadData, waitForLedgerChange(m.watcher, m.ledger))
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ledgerChangedMsg:
		// Keep watching, and reload.
		return m, tea.Batch(loadData, waitForLedgerChange(m.watcher, m.ledger))

	case watchErrMsg:
		m.err = fmt.Errorf("watching ledger: %w", msg.err)
		return m, waitForLedgerChange(m.watcher, m.ledger)

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.progress = msg.progress
		m.sections = msg.sections
		m.queue = msg.queue
		m.recentLog = msg.recentLog
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.updatedAt = msg.at
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" ralph ")
	helpText := "tab: switch panel | r: refresh | q: quit"
	if m.watcher != nil {
		helpText += " | live"
	}
	help := helpStyle.Render(helpText)

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	progressPanel := m.renderProgressPanel()
	queuePanel := m.renderQueuePanel()
	activityPanel := m.renderActivityPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		progressPanel = m.applyPanelStyle(panelProgress, progressPanel, colWidth-4)
		queuePanel = m.applyPanelStyle(panelQueue, queuePanel, colWidth-4)
		activityPanel = m.applyPanelStyle(panelActivity, activityPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, progressPanel, queuePanel, activityPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		progressPanel = m.applyPanelStyle(panelProgress, progressPanel, panelWidth)
		queuePanel = m.applyPanelStyle(panelQueue, queuePanel, panelWidth)
		activityPanel = m.applyPanelStyle(panelActivity, activityPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, progressPanel, queuePanel, activityPanel)
	}

	footer := help
	if !m.updatedAt.IsZero() {
		footer = helpStyle.Render("updated "+m.updatedAt.Format("15:04:05")) + "  " + help
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, footer)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderProgressPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Progress"))
	b.WriteString("\n")

	p := m.progress
	b.WriteString(fmt.Sprintf("  %d/%d done (%.0f%%)\n\n", p.Completed, p.Total, p.Percent()))

	if len(m.sections) == 0 {
		b.WriteString("  No entries in the ledger.")
		return b.String()
	}

	for _, s := range m.sections {
		name := s.Name
		if name == "" {
			name = "(untitled)"
		}
		label := fmt.Sprintf("  %-22s %d/%d", name, s.Completed, s.Total)
		b.WriteString(styleForSection(s).Render(label))
		b.WriteString("\n")
	}
	return b.String()
}

func (m dashboardModel) renderQueuePanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Up next"))
	b.WriteString("\n")

	if len(m.queue) == 0 {
		b.WriteString("  " + sectionDone.Render("All work complete."))
		return b.String()
	}

	for i, id := range m.queue {
		b.WriteString(fmt.Sprintf("  %2d. %s\n", i+1, id))
	}
	if more := m.progress.Pending - len(m.queue); more > 0 {
		b.WriteString(fmt.Sprintf("\n  ... and %d more", more))
	}
	return b.String()
}

func (m dashboardModel) renderActivityPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Activity"))
	b.WriteString("\n")

	if len(m.recentLog) == 0 {
		b.WriteString("  No completions logged yet.\n")
	}
	for i := len(m.recentLog) - 1; i >= 0; i-- {
		r := m.recentLog[i]
		b.WriteString(fmt.Sprintf("  %s %s %s\n", helpStyle.Render(r.Time.Local().Format("01-02 15:04")), r.ItemID, r.Summary))
	}

	if md := m.metricsData; md != nil {
		b.WriteString(fmt.Sprintf("\n  Runs %d | cycles %d | failed %d", md.runs, md.cycles, md.failures))
		if md.meanCycle > 0 {
			b.WriteString(fmt.Sprintf(" | mean %s", md.meanCycle.Round(time.Second)))
		}
		if md.lastRunReason != "" {
			b.WriteString(fmt.Sprintf("\n  Last run: %s", md.lastRunReason))
		}
		b.WriteString("\n")
	}

	if len(m.alerts) > 0 {
		b.WriteString("\n")
		for _, a := range m.alerts {
			sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
			b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
		}
	}

	return b.String()
}

func styleForSection(s core.SectionSummary) lipgloss.Style {
	switch {
	case s.Completed == s.Total:
		return sectionDone
	case s.Completed > 0:
		return sectionPartial
	default:
		return sectionTodo
	}
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	result := dataLoadedMsg{at: time.Now()}

	if Ledger == nil {
		result.err = fmt.Errorf("progress ledger not initialized")
		return result
	}
	if err := Ledger.Reload(); err != nil {
		result.err = fmt.Errorf("reading ledger: %w", err)
		return result
	}

	entries := Ledger.Entries()
	result.progress = Ledger.Progress()
	result.sections = core.SectionProgress(entries)
	for _, e := range entries {
		if len(result.queue) == queueLimit {
			break
		}
		if !e.Completed() {
			result.queue = append(result.queue, e.ID)
		}
	}
	result.recentLog = Ledger.RecentLogRecords(8)

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(time.Time{})
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			runs:          metrics.Runs,
			cycles:        metrics.Cycles,
			completed:     metrics.ItemsCompleted,
			failures:      metrics.CycleFailures,
			meanCycle:     metrics.MeanCycleDuration,
			lastRunReason: metrics.LastRunReason,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		// Sort alerts by severity: high first, then medium, then low.
		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

// waitForLedgerChange blocks until the ledger file is written, created or
// renamed into place. The ledger's directory is watched because atomic
// writes replace the file.
func waitForLedgerChange(w *fsnotify.Watcher, ledgerPath string) tea.Cmd {
	if w == nil {
		return nil
	}
	name := filepath.Clean(ledgerPath)
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					return ledgerChangedMsg{}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}

// newLedgerWatcher watches the directory containing the ledger.
func newLedgerWatcher(ledgerPath string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(ledgerPath)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(ledgerPath), err)
	}
	return w, nil
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for ledger progress",
	Long: `Launch an interactive terminal dashboard showing progress per ledger
section, the pending queue, recent completions, run metrics and alerts.

The view reloads whenever the ledger changes on disk, so it can be left open
next to a running loop. Navigate between panels with Tab, refresh with r,
quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}

		watcher, err := newLedgerWatcher(Ledger.Path())
		if err != nil {
			if Logger != nil {
				Logger.Warn("live reload disabled", "err", err)
			}
			watcher = nil
		}
		if watcher != nil {
			defer watcher.Close()
		}

		p := tea.NewProgram(newDashboardModel(watcher, Ledger.Path()), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
