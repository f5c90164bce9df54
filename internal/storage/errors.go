package storage

import "fmt"

// MalformedStoreError reports a work item document that could not be parsed
// or that contains an invalid record.
type MalformedStoreError struct {
	Source string
	Reason string
	Err    error
}

func (e *MalformedStoreError) Error() string {
	msg := fmt.Sprintf("malformed work item store %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedStoreError) Unwrap() error { return e.Err }

// DuplicateIDError reports two work items sharing an ID.
type DuplicateIDError struct {
	Source string
	ID     string
	// Indexes are the 0-based positions of the first and the repeated record.
	First, Second int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate work item id %q in %s (records %d and %d)", e.ID, e.Source, e.First, e.Second)
}

// UnknownIDError reports a lookup for an ID that is not present. From the
// store it means the ledger and store have drifted apart.
type UnknownIDError struct {
	ID    string
	Where string
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown id %q in %s", e.ID, e.Where)
}

// MalformedLedgerError reports a progress ledger line that violates the
// checklist format.
type MalformedLedgerError struct {
	Path   string
	Line   int
	Reason string
}

func (e *MalformedLedgerError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed ledger %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed ledger %s: %s", e.Path, e.Reason)
}
