package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one traced file outcome (or one failed step).
type TraceEvent struct {
	Seq        int      `json:"seq"`
	Op         string   `json:"op"`
	File       string   `json:"file"`
	Identity   string   `json:"identity,omitempty"`
	PartNumber string   `json:"part_number,omitempty"`
	Existing   string   `json:"existing_part_number,omitempty"`
	Base       string   `json:"base,omitempty"`
	Revision   int      `json:"revision,omitempty"`
	IsNew      bool     `json:"is_new,omitempty"`
	HasMapping bool     `json:"has_mapping,omitempty"`
	IsRenamed  bool     `json:"is_renamed_file,omitempty"`
	Originals  []string `json:"original_filenames,omitempty"`

	// Warning is the code of a per-file warning.
	Warning string `json:"warning,omitempty"`

	// Error is the code a failed step returned. Failed steps trace a
	// single event with no part number.
	Error string `json:"error,omitempty"`
}

// String renders the event as one golden trace line:
//
//	[3] resolve 703958945001.sldprt -> 703958945001 identity="bracket" rev=1 mapped renamed originals=[bracket.sldprt]
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s", e.Seq, e.Op, e.File)
	if e.Error != "" {
		fmt.Fprintf(&b, " !! %s", e.Error)
		return b.String()
	}
	if e.PartNumber != "" {
		fmt.Fprintf(&b, " -> %s", e.PartNumber)
	} else {
		b.WriteString(" -> -")
	}
	if e.Identity != "" {
		fmt.Fprintf(&b, " identity=%q", e.Identity)
	}
	if e.Revision != 0 {
		fmt.Fprintf(&b, " rev=%d", e.Revision)
	}
	if e.IsNew {
		b.WriteString(" new")
	}
	if e.HasMapping {
		b.WriteString(" mapped")
	}
	if e.IsRenamed {
		b.WriteString(" renamed")
	}
	if len(e.Originals) > 0 {
		fmt.Fprintf(&b, " originals=[%s]", strings.Join(e.Originals, ","))
	}
	if e.Existing != "" && e.Existing != e.PartNumber {
		fmt.Fprintf(&b, " existing=%s", e.Existing)
	}
	if e.Warning != "" {
		fmt.Fprintf(&b, " warning=%s", e.Warning)
	}
	return b.String()
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation and assertion held.
	Pass bool `json:"pass"`

	// BatchID is the fixed batch ID the scenario ran with.
	BatchID string `json:"batch_id"`

	// Trace contains every traced file outcome in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it.
func (r *Result) AddTrace(e TraceEvent) TraceEvent {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
	return e
}

// LastEvent returns the most recent successful event for file.
func (r *Result) LastEvent(file string) (TraceEvent, bool) {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if e := r.Trace[i]; e.File == file && e.Error == "" {
			return e, true
		}
	}
	return TraceEvent{}, false
}

// Render returns the golden text form of the trace.
func (r *Result) Render(scenario string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenario)
	fmt.Fprintf(&b, "batch: %s\n", r.BatchID)
	for _, e := range r.Trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
