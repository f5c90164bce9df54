// Package mcp provides an MCP (Model Context Protocol) server that exposes
// read-only ralph progress as MCP tools for the content-producing agent.
//
// Completion is never recorded through this server. Only the run loop marks
// an item completed, after it has verified the artifact on disk.
package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/ralph/internal/observability"
	"github.com/valter-silva-au/ralph/pkg/models"
)

// Ledger is the read side of the progress ledger used by the server.
type Ledger interface {
	Reload() error
	NextPending() (string, bool)
	Entries() []models.ProgressEntry
	Progress() models.Progress
	RecentLogRecords(n int) []models.LogRecord
}

// WorkItems resolves work item details by ID.
type WorkItems interface {
	Get(id string) (models.WorkItem, error)
}

const defaultLogLimit = 5

// Server wraps the ledger and work item store and exposes them as MCP tools.
type Server struct {
	server      *gomcp.Server
	ledger      Ledger
	items       WorkItems
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine

	// mu serializes reload-then-read so a tool never sees a half-applied reload.
	mu sync.Mutex
}

// NewServer creates a new MCP server over the given ledger and store.
// metricsCalc and alertEngine may be nil if the event log is unavailable.
func NewServer(ledger Ledger, items WorkItems, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		ledger:      ledger,
		items:       items,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "ralph", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type getProgressInput struct{}

type progressOutput struct {
	Total     int     `json:"total"`
	Pending   int     `json:"pending"`
	Completed int     `json:"completed"`
	Percent   float64 `json:"percent"`
	NextID    string  `json:"next_id,omitempty"`
}

type getNextItemInput struct{}

type getNextItemOutput struct {
	// Done is true when no pending entries remain.
	Done bool            `json:"done"`
	Item *workItemOutput `json:"item,omitempty"`
}

type getWorkItemInput struct {
	ID string `json:"id" jsonschema:"required,the work item identifier as it appears in the progress ledger"`
}

type workItemOutput struct {
	ID          string         `json:"id"`
	Category    string         `json:"category,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status,omitempty"`
	Section     string         `json:"section,omitempty"`
}

type getRecentLogInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of records to return, most recent last. Defaults to 5."`
}

type logRecordOutput struct {
	Time    string `json:"time"`
	ItemID  string `json:"item_id"`
	Summary string `json:"summary"`
}

type getRecentLogOutput struct {
	Records []logRecordOutput `json:"records"`
	Count   int               `json:"count"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	Runs             int            `json:"runs"`
	RunsByReason     map[string]int `json:"runs_by_reason"`
	Cycles           int            `json:"cycles"`
	ItemsCompleted   int            `json:"items_completed"`
	CycleFailures    int            `json:"cycle_failures"`
	FailuresByItem   map[string]int `json:"failures_by_item"`
	MeanCycleSeconds float64        `json:"mean_cycle_seconds"`
	SuccessRate      float64        `json:"success_rate"`
	EventCount       int            `json:"event_count"`
	LastRunReason    string         `json:"last_run_reason,omitempty"`
	OldestEvent      string         `json:"oldest_event,omitempty"`
	NewestEvent      string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_progress",
		Description: "Get total, pending and completed work item counts from the progress ledger, plus the next pending ID.",
	}, s.handleGetProgress)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_next_item",
		Description: "Get the first pending work item in ledger order with its full details. Returns done=true when all work is complete.",
	}, s.handleGetNextItem)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_work_item",
		Description: "Get a work item's category, description and metadata by ID, with its ledger status.",
	}, s.handleGetWorkItem)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_recent_log",
		Description: "Get the most recent completion records from the ledger log section.",
	}, s.handleGetRecentLog)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get run metrics aggregated from the event log: runs by termination reason, cycles, completions and failures.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (items failing repeatedly, aborted runs, stalled loop).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleGetProgress(_ context.Context, _ *gomcp.CallToolRequest, _ getProgressInput) (*gomcp.CallToolResult, progressOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Reload(); err != nil {
		return errorResult(fmt.Sprintf("reading ledger: %s", err)), progressOutput{}, nil
	}

	p := s.ledger.Progress()
	out := progressOutput{
		Total:     p.Total,
		Pending:   p.Pending,
		Completed: p.Completed,
		Percent:   p.Percent(),
	}
	if id, ok := s.ledger.NextPending(); ok {
		out.NextID = id
	}
	return nil, out, nil
}

func (s *Server) handleGetNextItem(_ context.Context, _ *gomcp.CallToolRequest, _ getNextItemInput) (*gomcp.CallToolResult, getNextItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Reload(); err != nil {
		return errorResult(fmt.Sprintf("reading ledger: %s", err)), getNextItemOutput{}, nil
	}

	id, ok := s.ledger.NextPending()
	if !ok {
		return nil, getNextItemOutput{Done: true}, nil
	}

	item, err := s.items.Get(id)
	if err != nil {
		return errorResult(fmt.Sprintf("loading work item %s: %s", id, err)), getNextItemOutput{}, nil
	}

	out := itemToOutput(item, s.entry(id))
	return nil, getNextItemOutput{Item: &out}, nil
}

func (s *Server) handleGetWorkItem(_ context.Context, _ *gomcp.CallToolRequest, input getWorkItemInput) (*gomcp.CallToolResult, workItemOutput, error) {
	if input.ID == "" {
		return errorResult("id is required"), workItemOutput{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.items.Get(input.ID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting work item %s: %s", input.ID, err)), workItemOutput{}, nil
	}

	if err := s.ledger.Reload(); err != nil {
		return errorResult(fmt.Sprintf("reading ledger: %s", err)), workItemOutput{}, nil
	}
	return nil, itemToOutput(item, s.entry(input.ID)), nil
}

func (s *Server) handleGetRecentLog(_ context.Context, _ *gomcp.CallToolRequest, input getRecentLogInput) (*gomcp.CallToolResult, getRecentLogOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Reload(); err != nil {
		return errorResult(fmt.Sprintf("reading ledger: %s", err)), getRecentLogOutput{}, nil
	}

	records := s.ledger.RecentLogRecords(limit)
	out := getRecentLogOutput{
		Records: make([]logRecordOutput, len(records)),
		Count:   len(records),
	}
	for i, r := range records {
		out.Records[i] = logRecordOutput{
			Time:    r.Time.UTC().Format(time.RFC3339),
			ItemID:  r.ItemID,
			Summary: r.Summary,
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (event log may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		Runs:             metrics.Runs,
		RunsByReason:     metrics.RunsByReason,
		Cycles:           metrics.Cycles,
		ItemsCompleted:   metrics.ItemsCompleted,
		CycleFailures:    metrics.CycleFailures,
		FailuresByItem:   metrics.FailuresByItem,
		MeanCycleSeconds: metrics.MeanCycleDuration.Seconds(),
		SuccessRate:      metrics.SuccessRate(),
		EventCount:       metrics.EventCount,
		LastRunReason:    metrics.LastRunReason,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (event log may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

// entry finds the ledger entry for id. The caller holds s.mu.
func (s *Server) entry(id string) *models.ProgressEntry {
	entries := s.ledger.Entries()
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i]
		}
	}
	return nil
}

func itemToOutput(item models.WorkItem, entry *models.ProgressEntry) workItemOutput {
	out := workItemOutput{
		ID:          item.ID,
		Category:    item.Category,
		Description: item.Description,
		Metadata:    item.Metadata,
	}
	if entry != nil {
		out.Status = string(entry.Status)
		out.Section = entry.Section
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		RunsByReason:   make(map[string]int),
		FailuresByItem: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
