package storage

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/ralph/pkg/models"
)

// LogHeading is the heading that starts the log section of a ledger.
const LogHeading = "## Log"

var (
	// checkboxLike matches anything that starts out as a checklist item, so
	// that lines which fail entryPattern are reported instead of skipped.
	checkboxLike = regexp.MustCompile(`^\s*[-*+]\s*\[[^\]]?\](\s|$)`)
	entryPattern = regexp.MustCompile(`^\s*[-*+] \[([ xX])\] +(\S+)(?:\s+(.*))?$`)
	headingLine  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)
	logHeading   = regexp.MustCompile(`(?i)^##\s+log\s*$`)
	logRecordRe  = regexp.MustCompile(`^\s*[-*+] (\S+) \| (\S+) \| ?(.*)$`)
	codeFence    = regexp.MustCompile("^\\s{0,3}(```|~~~)")
)

// ledgerDoc is the parsed form of a ledger file. Lines are kept verbatim so
// rewriting the document only touches the lines that changed.
type ledgerDoc struct {
	path    string
	lines   []string
	entries []models.ProgressEntry
	index   map[string]int
	// logLine is the index of the log heading in lines, or -1.
	logLine int
}

func parseLedger(path string, data []byte) (*ledgerDoc, error) {
	d := &ledgerDoc{
		path:    path,
		lines:   strings.Split(string(data), "\n"),
		index:   make(map[string]int),
		logLine: -1,
	}

	section := ""
	fence := ""
	for i, raw := range d.lines {
		line := strings.TrimRight(raw, "\r")
		lineNo := i + 1

		if m := codeFence.FindStringSubmatch(line); m != nil {
			switch fence {
			case "":
				fence = m[1]
			case m[1]:
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}

		if d.logLine < 0 && logHeading.MatchString(line) {
			d.logLine = i
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			section = m[2]
			continue
		}
		if !checkboxLike.MatchString(line) {
			continue
		}
		if d.logLine >= 0 {
			return nil, &MalformedLedgerError{
				Path:   path,
				Line:   lineNo,
				Reason: fmt.Sprintf("checklist item below the log heading on line %d; move it above %q", d.logLine+1, LogHeading),
			}
		}

		m := entryPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, &MalformedLedgerError{Path: path, Line: lineNo, Reason: fmt.Sprintf("unparsable checklist item %q", line)}
		}
		id := strings.TrimSuffix(m[2], ":")
		if !ValidID(id) {
			return nil, &MalformedLedgerError{Path: path, Line: lineNo, Reason: fmt.Sprintf("invalid id %q", m[2])}
		}
		if prev, dup := d.index[id]; dup {
			return nil, &MalformedLedgerError{
				Path:   path,
				Line:   lineNo,
				Reason: fmt.Sprintf("id %q already listed on line %d", id, d.entries[prev].Line),
			}
		}

		status := models.StatusPending
		if m[1] != " " {
			status = models.StatusCompleted
		}
		d.index[id] = len(d.entries)
		d.entries = append(d.entries, models.ProgressEntry{
			ID:      id,
			Status:  status,
			Label:   strings.TrimSpace(m[3]),
			Section: section,
			Line:    lineNo,
		})
	}
	return d, nil
}

func (d *ledgerDoc) render() []byte {
	return []byte(strings.Join(d.lines, "\n"))
}

func (d *ledgerDoc) nextPending() (string, bool) {
	for _, e := range d.entries {
		if e.Status == models.StatusPending {
			return e.ID, true
		}
	}
	return "", false
}

// markCompleted flips the checkbox of id in place. It returns false when the
// entry is already completed.
func (d *ledgerDoc) markCompleted(id string) (bool, error) {
	i, ok := d.index[id]
	if !ok {
		return false, &UnknownIDError{ID: id, Where: "ledger " + d.path}
	}
	if d.entries[i].Status == models.StatusCompleted {
		return false, nil
	}

	lineIdx := d.entries[i].Line - 1
	line := d.lines[lineIdx]
	box := strings.Index(line, "[ ]")
	if box < 0 {
		return false, &MalformedLedgerError{Path: d.path, Line: lineIdx + 1, Reason: "checkbox vanished while marking"}
	}
	d.lines[lineIdx] = line[:box+1] + "x" + line[box+2:]
	d.entries[i].Status = models.StatusCompleted
	return true, nil
}

func (d *ledgerDoc) appendLog(rec models.LogRecord) {
	entry := formatLogRecord(rec)

	if d.logLine < 0 {
		content := d.lines
		if n := len(content); n > 0 && content[n-1] == "" {
			content = content[:n-1]
		}
		if n := len(content); n > 0 && strings.TrimSpace(content[n-1]) != "" {
			content = append(content, "")
		}
		d.logLine = len(content)
		d.lines = append(content, LogHeading, "", entry, "")
		return
	}

	last := len(d.lines) - 1
	for last > d.logLine && strings.TrimSpace(d.lines[last]) == "" {
		last--
	}
	insert := []string{entry}
	if last == d.logLine {
		insert = []string{"", entry}
	}
	pos := last + 1

	lines := make([]string, 0, len(d.lines)+len(insert)+1)
	lines = append(lines, d.lines[:pos]...)
	lines = append(lines, insert...)
	lines = append(lines, d.lines[pos:]...)
	if lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	d.lines = lines
}

func (d *ledgerDoc) logRecords() []models.LogRecord {
	if d.logLine < 0 {
		return nil
	}
	var records []models.LogRecord
	for _, raw := range d.lines[d.logLine+1:] {
		m := logRecordRe.FindStringSubmatch(strings.TrimRight(raw, "\r"))
		if m == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, m[1])
		if err != nil {
			continue
		}
		records = append(records, models.LogRecord{Time: ts, ItemID: m[2], Summary: m[3]})
	}
	return records
}

func formatLogRecord(rec models.LogRecord) string {
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	summary := strings.Join(strings.Fields(rec.Summary), " ")
	if summary == "" {
		summary = "completed"
	}
	return fmt.Sprintf("- %s | %s | %s", ts.UTC().Format(time.RFC3339), rec.ItemID, summary)
}

// Ledger is the durable pending/completed record of every work item,
// persisted as a markdown checklist with an appended log section.
//
// Reads are served from the state loaded by OpenLedger or by the most recent
// write. Every write holds an exclusive lock on a sidecar "<path>.lock" file,
// re-reads the document from disk, applies the change and replaces the file
// atomically.
type Ledger struct {
	path string

	mu  sync.Mutex
	doc *ledgerDoc
}

// OpenLedger parses the ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Reload re-reads the ledger from disk.
func (l *Ledger) Reload() error {
	data, err := os.ReadFile(l.path) //nolint:gosec // G304: configured ledger path
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("opening ledger: %s does not exist: %w", l.path, err)
		}
		return fmt.Errorf("opening ledger: %w", err)
	}
	doc, err := parseLedger(l.path, data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.doc = doc
	l.mu.Unlock()
	return nil
}

// NextPending returns the first pending ID in document order. The boolean
// is false when every entry is completed.
func (l *Ledger) NextPending() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.nextPending()
}

// Status returns the status of id.
func (l *Ledger) Status(id string) (models.ProgressStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.doc.index[id]
	if !ok {
		return "", &UnknownIDError{ID: id, Where: "ledger " + l.path}
	}
	return l.doc.entries[i].Status, nil
}

// Entries returns a copy of all entries in document order.
func (l *Ledger) Entries() []models.ProgressEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ProgressEntry, len(l.doc.entries))
	copy(out, l.doc.entries)
	return out
}

// Progress returns pending and completed counts.
func (l *Ledger) Progress() models.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := models.Progress{Total: len(l.doc.entries)}
	for _, e := range l.doc.entries {
		if e.Status == models.StatusCompleted {
			p.Completed++
		} else {
			p.Pending++
		}
	}
	return p
}

// LogRecords returns every parsable record in the log section.
func (l *Ledger) LogRecords() []models.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.logRecords()
}

// RecentLogRecords returns up to n of the most recent log records, oldest
// first.
func (l *Ledger) RecentLogRecords(n int) []models.LogRecord {
	if n <= 0 {
		return nil
	}
	records := l.LogRecords()
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records
}

// MarkCompleted transitions id from pending to completed and persists the
// ledger before returning. It returns false without writing when id is
// already completed, and *UnknownIDError when the ledger has no such entry.
func (l *Ledger) MarkCompleted(id string) (bool, error) {
	changed, err := l.update(func(d *ledgerDoc) (bool, error) {
		return d.markCompleted(id)
	})
	if err != nil {
		return false, fmt.Errorf("marking %s completed: %w", id, err)
	}
	return changed, nil
}

// AppendLogRecord appends rec to the log section, creating the section when
// it does not exist yet.
func (l *Ledger) AppendLogRecord(rec models.LogRecord) error {
	if _, err := l.update(func(d *ledgerDoc) (bool, error) {
		d.appendLog(rec)
		return true, nil
	}); err != nil {
		return fmt.Errorf("appending log record for %s: %w", rec.ItemID, err)
	}
	return nil
}

func (l *Ledger) update(apply func(d *ledgerDoc) (bool, error)) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	unlock, err := lockFile(l.path + ".lock")
	if err != nil {
		return false, err
	}
	defer func() { _ = unlock() }()

	info, err := os.Stat(l.path)
	if err != nil {
		return false, fmt.Errorf("reading ledger: %w", err)
	}
	data, err := os.ReadFile(l.path) //nolint:gosec // G304: configured ledger path
	if err != nil {
		return false, fmt.Errorf("reading ledger: %w", err)
	}
	doc, err := parseLedger(l.path, data)
	if err != nil {
		return false, err
	}

	changed, err := apply(doc)
	if err != nil {
		l.doc = doc
		return false, err
	}
	if changed {
		if err := WriteFileAtomic(l.path, doc.render(), info.Mode().Perm()); err != nil {
			return false, fmt.Errorf("writing ledger: %w", err)
		}
	}
	l.doc = doc
	return changed, nil
}

// RenderLedger builds a fresh ledger document listing items as pending in
// store order, starting a new heading whenever the category changes.
func RenderLedger(title string, items []models.WorkItem) []byte {
	var b strings.Builder
	if title == "" {
		title = "Progress"
	}
	fmt.Fprintf(&b, "# %s\n", title)

	current := "\x00"
	for _, item := range items {
		if item.Category != current {
			current = item.Category
			heading := current
			if heading == "" {
				heading = "Uncategorized"
			}
			if logHeading.MatchString("## " + heading) {
				heading += " items"
			}
			fmt.Fprintf(&b, "\n## %s\n\n", heading)
		}
		label := strings.Join(strings.Fields(item.Description), " ")
		if label == "" {
			fmt.Fprintf(&b, "- [ ] %s\n", item.ID)
		} else {
			fmt.Fprintf(&b, "- [ ] %s %s\n", item.ID, label)
		}
	}
	fmt.Fprintf(&b, "\n%s\n", LogHeading)
	return []byte(b.String())
}

// CreateLedger writes a new ledger for items at path. It refuses to
// overwrite an existing file.
func CreateLedger(path, title string, items []models.WorkItem) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("creating ledger: %s already exists", path)
	}
	if err := WriteFileAtomic(path, RenderLedger(title, items), 0o644); err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	return nil
}
