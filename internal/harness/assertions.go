package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/partnum/internal/part"
	"github.com/roach88/partnum/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertRecordCount:
		return assertRecordCount(ctx, h.store, a)
	case AssertRecord:
		return assertRecord(ctx, h.store, a)
	case AssertSameBase:
		return assertBases(result, a, true)
	case AssertDistinctBases:
		return assertBases(result, a, false)
	case AssertStoreVerified:
		if err := h.store.Verify(ctx); err != nil {
			return &AssertionError{Type: a.Type, Expected: "no problems", Actual: err.Error()}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertRecordCount(ctx context.Context, st *store.Store, a Assertion) error {
	recs, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records", len(recs)),
		}
	}
	return nil
}

// assertRecord checks the fields the assertion sets; zero values are not
// checked.
func assertRecord(ctx context.Context, st *store.Store, a Assertion) error {
	rec, ok, err := st.Get(ctx, part.LogicalIdentity(a.Identity))
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("record for %q", a.Identity), Actual: "no record"}
	}

	var diffs []string
	if a.Base != "" && rec.Base != a.Base {
		diffs = append(diffs, fmt.Sprintf("base %s", rec.Base))
	}
	if a.Revision != 0 && rec.CurrentRevision() != a.Revision {
		diffs = append(diffs, fmt.Sprintf("revision %d", rec.CurrentRevision()))
	}
	if a.Filenames != nil && !slices.Equal(rec.KnownFilenames, a.Filenames) {
		diffs = append(diffs, fmt.Sprintf("filenames %v", rec.KnownFilenames))
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("base=%q revision=%d filenames=%v", a.Base, a.Revision, a.Filenames),
			Actual:   strings.Join(diffs, ", "),
		}
	}
	return nil
}

func assertBases(result *Result, a Assertion, same bool) error {
	seen := make(map[string]string, len(a.Files))
	for _, f := range a.Files {
		e, ok := result.LastEvent(f)
		if !ok || e.Base == "" {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("a base for %s", f), Actual: "not traced", Trace: result.Trace}
		}
		seen[f] = e.Base
	}

	bases := make(map[string]bool)
	for _, b := range seen {
		bases[b] = true
	}
	switch {
	case same && len(bases) != 1:
		return &AssertionError{Type: a.Type, Expected: "one base", Actual: fmt.Sprint(seen), Trace: result.Trace}
	case !same && len(bases) != len(a.Files):
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d bases", len(a.Files)), Actual: fmt.Sprint(seen), Trace: result.Trace}
	}
	return nil
}
