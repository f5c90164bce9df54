package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	Runs              int            `json:"runs"`
	RunsByReason      map[string]int `json:"runs_by_reason"`
	Cycles            int            `json:"cycles"`
	ItemsCompleted    int            `json:"items_completed"`
	CycleFailures     int            `json:"cycle_failures"`
	FailuresByItem    map[string]int `json:"failures_by_item"`
	MeanCycleDuration time.Duration  `json:"mean_cycle_duration"`
	EventCount        int            `json:"event_count"`
	OldestEvent       *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent       *time.Time     `json:"newest_event,omitempty"`
	LastRunReason     string         `json:"last_run_reason,omitempty"`
	LastRunAt         *time.Time     `json:"last_run_at,omitempty"`
}

// SuccessRate returns completed cycles as a fraction of finished cycles.
func (m *Metrics) SuccessRate() float64 {
	finished := m.ItemsCompleted + m.CycleFailures
	if finished == 0 {
		return 0
	}
	return float64(m.ItemsCompleted) / float64(finished)
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		RunsByReason:   make(map[string]int),
		FailuresByItem: make(map[string]int),
	}

	m.EventCount = len(events)

	var totalDuration time.Duration
	var timedCycles int
	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "run.finished":
			m.Runs++
			if reason, ok := event.Data["reason"].(string); ok {
				m.RunsByReason[reason]++
				m.LastRunReason = reason
			}
			m.LastRunAt = &t
		case "cycle.started":
			m.Cycles++
		case "cycle.completed":
			m.ItemsCompleted++
			if d, ok := durationMillis(event.Data["duration_ms"]); ok {
				totalDuration += d
				timedCycles++
			}
		case "cycle.failed":
			m.CycleFailures++
			if id := event.ItemID(); id != "" {
				m.FailuresByItem[id]++
			}
			if d, ok := durationMillis(event.Data["duration_ms"]); ok {
				totalDuration += d
				timedCycles++
			}
		}
	}

	if timedCycles > 0 {
		m.MeanCycleDuration = totalDuration / time.Duration(timedCycles)
	}

	return m, nil
}

// durationMillis reads a duration_ms value. JSON numbers decode as float64.
func durationMillis(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Millisecond)), true
	case int64:
		return time.Duration(n) * time.Millisecond, true
	case int:
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}
