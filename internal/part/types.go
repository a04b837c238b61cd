package part

import (
	"slices"
	"time"
)

// LogicalIdentity is the normalized key for a part. Two files that
// represent the same part in different export formats share it.
type LogicalIdentity string

// String returns the identity as a plain string.
func (id LogicalIdentity) String() string {
	return string(id)
}

// Revision is one issued revision of a base part number.
type Revision struct {
	Number   int       `json:"revision"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Record is the persisted assignment for one LogicalIdentity.
//
// INVARIANTS:
//   - Base is 9 ASCII digits and never changes once assigned
//   - Revisions is strictly increasing and bounded to [MinRevision, MaxRevision]
//   - KnownFilenames only grows; order is first-seen order
type Record struct {
	Identity       LogicalIdentity `json:"identity"`
	Base           string          `json:"basePartNumber"`
	Revisions      []Revision      `json:"revisions"`
	KnownFilenames []string        `json:"knownFilenames"`
}

// CurrentRevision returns the highest issued revision, or 0 if the record
// has none.
func (r *Record) CurrentRevision() int {
	if len(r.Revisions) == 0 {
		return 0
	}
	return r.Revisions[len(r.Revisions)-1].Number
}

// FullPartNumber returns the 12-digit number for the current revision.
func (r *Record) FullPartNumber() string {
	full, err := Format(r.Base, r.CurrentRevision())
	if err != nil {
		return ""
	}
	return full
}

// HasRevision reports whether revision n was ever issued.
func (r *Record) HasRevision(n int) bool {
	for _, rev := range r.Revisions {
		if rev.Number == n {
			return true
		}
	}
	return false
}

// HasFilename reports whether filename is already known for the record.
func (r *Record) HasFilename(filename string) bool {
	return slices.Contains(r.KnownFilenames, filename)
}

// Clone returns a deep copy so callers cannot mutate store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Identity:       r.Identity,
		Base:           r.Base,
		Revisions:      slices.Clone(r.Revisions),
		KnownFilenames: slices.Clone(r.KnownFilenames),
	}
}

// Descriptor is one file handed to the orchestrator by a folder
// enumerator or an upload handler.
//
// Identity is optional. When empty the identity is derived from Filename.
type Descriptor struct {
	Identity LogicalIdentity `json:"identity,omitempty"`
	Filename string          `json:"filename"`
}

// Result is the outcome of resolving one Descriptor.
//
// Err carries per-file problems (for example ErrOrphanedPartNumber). A
// result with a non-nil Err has no assigned part number unless
// ExistingPartNumber says otherwise.
type Result struct {
	Filename           string          `json:"filename"`
	Identity           LogicalIdentity `json:"identity"`
	BasePartNumber     string          `json:"basePartNumber,omitempty"`
	Revision           int             `json:"revision,omitempty"`
	FullPartNumber     string          `json:"fullPartNumber,omitempty"`
	HasMapping         bool            `json:"hasMapping"`
	IsNew              bool            `json:"isNew"`
	IsRenamedFile      bool            `json:"isRenamedFile"`
	OriginalFilenames  []string        `json:"originalFilenames"`
	ExistingPartNumber string          `json:"existingPartNumber,omitempty"`
	Err                error           `json:"-"`
}

// Warning returns the per-file error text, or "" when the file resolved.
func (r Result) Warning() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
