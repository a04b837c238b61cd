// Package legacy imports the flat mapping file written by the first
// generation of the tool: a JSON object keyed by file path whose values are
// either {"base": "123456789", "revision": 2} or a bare 12-digit string.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/partnum/internal/identity"
	"github.com/roach88/partnum/internal/part"
	"github.com/roach88/partnum/internal/store"
)

// Entry is one path of the legacy file.
type Entry struct {
	Path     string
	Base     string
	Revision int
}

// FullPartNumber returns the entry's 12-digit number, or "" if the entry
// is malformed.
func (e Entry) FullPartNumber() string {
	full, err := part.Format(e.Base, e.Revision)
	if err != nil {
		return ""
	}
	return full
}

type objectValue struct {
	Base     string `json:"base"`
	Revision *int   `json:"revision"`
}

// Parse reads a legacy mapping file. Entries are returned sorted by path.
// Values that are neither form are reported together, after every valid
// entry has been collected.
func Parse(r io.Reader) ([]Entry, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode legacy mappings: %w", err)
	}

	paths := make([]string, 0, len(raw))
	for p := range raw {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs *multierror.Error
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		e, err := parseValue(p, raw[p])
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs.ErrorOrNil()
}

func parseValue(path string, v json.RawMessage) (Entry, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return Entry{}, malformed(path, "empty value")
	}

	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return Entry{}, malformed(path, err.Error())
		}
		base, rev, err := part.Parse(s)
		if err != nil {
			return Entry{}, malformed(path, fmt.Sprintf("%q is not a 12-digit part number", s))
		}
		return Entry{Path: path, Base: base, Revision: rev}, nil

	case '{':
		var obj objectValue
		if err := json.Unmarshal(v, &obj); err != nil {
			return Entry{}, malformed(path, err.Error())
		}
		rev := 1
		if obj.Revision != nil {
			rev = *obj.Revision
		}
		e := Entry{Path: path, Base: obj.Base, Revision: rev}
		if !part.ValidBase(e.Base) {
			return Entry{}, malformed(path, fmt.Sprintf("base %q is not 9 digits", obj.Base))
		}
		if rev < part.MinRevision || rev > part.MaxRevision {
			return Entry{}, &part.Error{Code: part.CodeRevisionOverflow, Op: "parse legacy entry " + path, PartNumber: e.Base, Err: fmt.Errorf("%w: revision %d", part.ErrRevisionOverflow, rev)}
		}
		return e, nil
	}
	return Entry{}, malformed(path, "value is neither an object nor a string")
}

func malformed(path, reason string) error {
	return &part.Error{
		Code: part.CodeMalformedPartNumber,
		Op:   "parse legacy entry " + path,
		Err:  fmt.Errorf("%w: %s", part.ErrMalformedPartNumber, reason),
	}
}

// Report summarizes an import.
type Report struct {
	// Created counts identities that got a new record.
	Created int `json:"created"`
	// Merged counts identities that already had a matching record.
	Merged int `json:"merged"`
	// Entries counts legacy paths applied.
	Entries int `json:"entries"`
	// Conflicts lists identities skipped because their numbers clash with
	// each other or with the store.
	Conflicts []string `json:"conflicts"`
}

// Importer applies legacy entries to a store.
type Importer struct {
	store      *store.Store
	normalizer *identity.Normalizer
}

// NewImporter creates an Importer. The store must already be bound to the
// normalizer's rules (see assign.New).
func NewImporter(st *store.Store, n *identity.Normalizer) *Importer {
	return &Importer{store: st, normalizer: n}
}

// Import groups entries by identity and applies every group in one store
// transaction. Groups that conflict are skipped and reported through the
// returned error, a *multierror.Error; the rest are still imported. Store
// failures abort the import and nothing is kept.
func (im *Importer) Import(ctx context.Context, entries []Entry) (*Report, error) {
	groups := make(map[part.LogicalIdentity][]Entry)
	for _, e := range entries {
		id := im.normalizer.Normalize(e.Path)
		groups[id] = append(groups[id], e)
	}
	ids := make([]part.LogicalIdentity, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var report *Report
	var conflicts *multierror.Error
	err := im.store.Update(ctx, func(tx *store.Tx) error {
		report = &Report{Conflicts: []string{}}
		conflicts = nil
		for _, id := range ids {
			created, err := applyGroup(tx, id, groups[id])
			if err != nil {
				if !isConflict(err) {
					return err
				}
				conflicts = multierror.Append(conflicts, err)
				report.Conflicts = append(report.Conflicts, string(id))
				slog.Warn("legacy entry skipped", "identity", id, "error", err)
				continue
			}
			if created {
				report.Created++
			} else {
				report.Merged++
			}
			report.Entries += len(groups[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("legacy mappings imported",
		"created", report.Created,
		"merged", report.Merged,
		"conflicts", len(report.Conflicts),
	)
	return report, conflicts.ErrorOrNil()
}

// applyGroup validates a group before touching the store, so a conflict
// never leaves half a group applied.
func applyGroup(tx *store.Tx, id part.LogicalIdentity, group []Entry) (bool, error) {
	const op = "import legacy mapping"
	base := group[0].Base
	revs := make(map[int]bool, len(group))
	for _, e := range group {
		if e.Base != base {
			return false, &part.Error{
				Code:       part.CodeBaseConflict,
				Op:         op,
				Identity:   id,
				PartNumber: e.Base,
				Err:        fmt.Errorf("%w: %s has base %s, %s has base %s", part.ErrBaseConflict, group[0].Path, base, e.Path, e.Base),
			}
		}
		revs[e.Revision] = true
	}
	sorted := make([]int, 0, len(revs))
	for r := range revs {
		sorted = append(sorted, r)
	}
	sort.Ints(sorted)

	rec, exists := tx.Get(id)
	switch {
	case exists && rec.Base != base:
		return false, &part.Error{
			Code:       part.CodeBaseConflict,
			Op:         op,
			Identity:   id,
			PartNumber: base,
			Err:        fmt.Errorf("%w: store has base %s", part.ErrBaseConflict, rec.Base),
		}
	case !exists:
		if owner, taken := tx.OwnerOf(base); taken {
			return false, &part.Error{
				Code:       part.CodeBaseConflict,
				Op:         op,
				Identity:   id,
				PartNumber: base,
				Err:        fmt.Errorf("%w: base owned by %q", part.ErrBaseConflict, owner),
			}
		}
		if _, err := tx.UpsertNewAssignment(id, base, sorted[0], ""); err != nil {
			return false, err
		}
		sorted = sorted[1:]
	}

	current := 0
	if exists {
		current = rec.CurrentRevision()
	}
	for _, r := range sorted {
		if r <= current {
			// Already issued, or older than what the store knows.
			continue
		}
		if _, err := tx.AppendRevision(id, r); err != nil {
			return false, err
		}
		current = r
	}
	for _, e := range group {
		if _, renamed := part.PartNumberName(e.Path); renamed {
			continue
		}
		if err := tx.RecordFilename(id, e.Path); err != nil {
			return false, err
		}
	}
	return !exists, nil
}

func isConflict(err error) bool {
	switch part.CodeOf(err) {
	case part.CodeBaseConflict, part.CodeInvalidRevision, part.CodeRevisionOverflow:
		return true
	}
	return false
}
