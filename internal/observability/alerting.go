package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	// MaxConsecutiveFailures is how many failed cycles in a row an item may
	// have, across runs, before it is reported. Zero disables the check.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	// StalledRuns is how many most recent runs may finish without completing
	// anything before the loop is reported as stalled. Zero disables the check.
	StalledRuns int `yaml:"stalled_runs" json:"stalled_runs"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxConsecutiveFailures: 3,
		StalledRuns:            3,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkRepeatedFailures(events, now)...)
	alerts = append(alerts, ae.checkLastRun(events, now)...)
	alerts = append(alerts, ae.checkStalled(events, now)...)
	return alerts, nil
}

// checkRepeatedFailures reports items whose most recent cycles all failed.
func (ae *alertEngine) checkRepeatedFailures(events []Event, now time.Time) []Alert {
	if ae.thresholds.MaxConsecutiveFailures <= 0 {
		return nil
	}

	streak := make(map[string]int)
	lastErr := make(map[string]string)
	for _, event := range events {
		id := event.ItemID()
		if id == "" {
			continue
		}
		switch event.Type {
		case "cycle.completed":
			streak[id] = 0
		case "cycle.failed":
			streak[id]++
			lastErr[id], _ = event.Data["error"].(string)
		}
	}

	ids := make([]string, 0, len(streak))
	for id, n := range streak {
		if n >= ae.thresholds.MaxConsecutiveFailures {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	alerts := make([]Alert, 0, len(ids))
	for _, id := range ids {
		msg := fmt.Sprintf("item %s failed %d cycles in a row", id, streak[id])
		if lastErr[id] != "" {
			msg += ": " + lastErr[id]
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("failing-%s", id),
			Condition:   "item_failing_repeatedly",
			Severity:    SeverityHigh,
			Message:     msg,
			TriggeredAt: now,
		})
	}
	return alerts
}

// checkLastRun reports a most recent run that ended on a fatal error.
func (ae *alertEngine) checkLastRun(events []Event, now time.Time) []Alert {
	var last *Event
	for i := range events {
		if events[i].Type == "run.finished" {
			last = &events[i]
		}
	}
	if last == nil {
		return nil
	}

	reason, _ := last.Data["reason"].(string)
	errMsg, _ := last.Data["error"].(string)
	var severity AlertSeverity
	switch reason {
	case "desync", "error":
		severity = SeverityHigh
	case "canceled":
		severity = SeverityLow
	default:
		return nil
	}

	msg := fmt.Sprintf("run %s ended with %s", shortRunID(last.RunID()), reason)
	if errMsg != "" {
		msg += ": " + errMsg
	}
	return []Alert{{
		ID:          fmt.Sprintf("run-%s", last.RunID()),
		Condition:   "run_aborted",
		Severity:    severity,
		Message:     msg,
		TriggeredAt: now,
	}}
}

// checkStalled reports when the most recent runs completed nothing while
// work was still pending.
func (ae *alertEngine) checkStalled(events []Event, now time.Time) []Alert {
	n := ae.thresholds.StalledRuns
	if n <= 0 {
		return nil
	}

	var finished []Event
	for _, event := range events {
		if event.Type == "run.finished" {
			finished = append(finished, event)
		}
	}
	if len(finished) < n {
		return nil
	}

	for _, event := range finished[len(finished)-n:] {
		completed, _ := event.Data["completed"].(float64)
		if completed > 0 {
			return nil
		}
		progress, _ := event.Data["progress"].(map[string]any)
		if pending, _ := progress["pending"].(float64); pending == 0 {
			return nil
		}
	}

	return []Alert{{
		ID:          "stalled",
		Condition:   "loop_stalled",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("the last %d runs completed no items while work is pending", n),
		TriggeredAt: now,
	}}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
