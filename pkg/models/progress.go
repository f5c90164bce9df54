package models

import "time"

// ProgressStatus is the durable completion state of a work item.
// There is deliberately no in-progress state on disk.
type ProgressStatus string

const (
	StatusPending   ProgressStatus = "pending"
	StatusCompleted ProgressStatus = "completed"
)

// ProgressEntry is one checklist line of the progress ledger.
type ProgressEntry struct {
	ID     string         `json:"id"`
	Status ProgressStatus `json:"status"`
	// Label is the free text following the ID on the checklist line.
	Label string `json:"label,omitempty"`
	// Section is the nearest markdown heading above the entry.
	Section string `json:"section,omitempty"`
	// Line is the 1-based line number in the ledger document.
	Line int `json:"line"`
}

// Completed reports whether the entry has been marked done.
func (e ProgressEntry) Completed() bool {
	return e.Status == StatusCompleted
}

// LogRecord is one historical completion record in the ledger's log section.
type LogRecord struct {
	Time    time.Time `json:"time"`
	ItemID  string    `json:"item_id"`
	Summary string    `json:"summary"`
}

// Progress summarises the ledger.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

// Percent returns completion as a percentage in [0, 100].
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) * 100 / float64(p.Total)
}
