// Package report implements the run-wide violation report: an explicit,
// capped accumulator owned by the orchestrator and handed into each stage,
// instead of hidden global state. Once the cap is reached further entries are
// counted but not retained, so error-dense inputs cannot grow it unbounded.
package report

import (
	"encoding/json"
	"io"
	"sync"
)

// Severity of a recorded violation.
type Severity string

const (
	// SeverityWarning marks a non-fatal violation: the record was admitted.
	SeverityWarning Severity = "warning"
	// SeverityFatal marks a violation that excluded the record from the graph.
	SeverityFatal Severity = "fatal"
)

// Entry is one machine-readable violation.
type Entry struct {
	Source   string   `json:"source"`
	RecordID string   `json:"record_id"`
	Field    string   `json:"field,omitempty"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Report accumulates violations across a run. Safe for concurrent use.
type Report struct {
	mu        sync.Mutex
	runID     string
	cap       int
	entries   []Entry
	counts    map[Severity]int
	truncated int
}

// New creates a report identified by runID. cap bounds the number of retained
// entries; zero or negative means unbounded.
func New(runID string, cap int) *Report {
	return &Report{
		runID:  runID,
		cap:    cap,
		counts: make(map[Severity]int),
	}
}

// Record adds an entry, or only counts it once the cap is reached.
func (r *Report) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[e.Severity]++
	if r.cap > 0 && len(r.entries) >= r.cap {
		r.truncated++
		return
	}
	r.entries = append(r.entries, e)
}

// HasFatal reports whether any fatal violation was recorded.
func (r *Report) HasFatal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[SeverityFatal] > 0
}

// Entries returns a copy of the retained entries.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns the total number of violations observed at the given
// severity, including ones dropped by the cap.
func (r *Report) Count(s Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[s]
}

type document struct {
	RunID     string           `json:"run_id"`
	Totals    map[Severity]int `json:"totals"`
	Truncated int              `json:"truncated_entries"`
	Entries   []Entry          `json:"entries"`
}

// WriteJSON emits the machine-readable report document.
func (r *Report) WriteJSON(w io.Writer) error {
	r.mu.Lock()
	doc := document{
		RunID:     r.runID,
		Totals:    make(map[Severity]int, len(r.counts)),
		Truncated: r.truncated,
		Entries:   r.entries,
	}
	for k, v := range r.counts {
		doc.Totals[k] = v
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}
	r.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
