package store

import (
	"errors"
	"fmt"

	"github.com/roach88/partnum/internal/part"
)

var errReadOnly = errors.New("mutation in read-only transaction")

// Tx is a view of the store inside Update or View. It must not be used
// after the callback returns.
type Tx struct {
	s        *Store
	writable bool

	// undo holds the pre-transaction copy of each touched record; a nil
	// value means the record was created in this transaction.
	undo  map[part.LogicalIdentity]*part.Record
	dirty []part.LogicalIdentity

	metaChanged bool
	prevFP      string
}

func newTx(s *Store, writable bool) *Tx {
	return &Tx{
		s:        s,
		writable: writable,
		undo:     make(map[part.LogicalIdentity]*part.Record),
		prevFP:   s.state.Fingerprint,
	}
}

// Get returns a copy of the record for id.
func (tx *Tx) Get(id part.LogicalIdentity) (*part.Record, bool) {
	rec, ok := tx.s.state.Records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// GetByFullNumber returns a copy of the record whose base matches full
// and which issued full's revision.
func (tx *Tx) GetByFullNumber(full string) (*part.Record, bool, error) {
	base, rev, err := part.Parse(full)
	if err != nil {
		return nil, false, err
	}
	id, ok := tx.s.byBase[base]
	if !ok {
		return nil, false, nil
	}
	rec := tx.s.state.Records[id]
	if !rec.HasRevision(rev) {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// BaseTaken reports whether base is owned by any record. Tx satisfies
// allocator.BaseIndex.
func (tx *Tx) BaseTaken(base string) bool {
	_, ok := tx.s.byBase[base]
	return ok
}

// OwnerOf returns the identity owning base.
func (tx *Tx) OwnerOf(base string) (part.LogicalIdentity, bool) {
	id, ok := tx.s.byBase[base]
	return id, ok
}

// Records returns copies of all records ordered by identity.
func (tx *Tx) Records() []*part.Record {
	sorted := tx.s.state.Sorted()
	out := make([]*part.Record, len(sorted))
	for i, rec := range sorted {
		out[i] = rec.Clone()
	}
	return out
}

// UpsertNewAssignment creates the record for id with a single revision.
//
// It is not idempotent: an existing record for id fails with
// part.ErrDuplicateIdentity. A base already owned by another identity fails
// with part.ErrBaseConflict.
func (tx *Tx) UpsertNewAssignment(id part.LogicalIdentity, base string, revision int, filename string) (*part.Record, error) {
	const op = "upsert new assignment"
	if !tx.writable {
		return nil, &part.Error{Code: part.CodeStoreIO, Op: op, Identity: id, Err: errReadOnly}
	}
	if _, exists := tx.s.state.Records[id]; exists {
		return nil, &part.Error{Code: part.CodeDuplicateIdentity, Op: op, Identity: id, Err: part.ErrDuplicateIdentity}
	}
	if !part.ValidBase(base) {
		return nil, &part.Error{Code: part.CodeMalformedPartNumber, Op: op, Identity: id, PartNumber: base, Err: part.ErrMalformedPartNumber}
	}
	if owner, taken := tx.s.byBase[base]; taken {
		return nil, &part.Error{
			Code:       part.CodeBaseConflict,
			Op:         op,
			Identity:   id,
			PartNumber: base,
			Err:        fmt.Errorf("%w: owned by %q", part.ErrBaseConflict, owner),
		}
	}
	if revision < part.MinRevision || revision > part.MaxRevision {
		return nil, &part.Error{Code: part.CodeRevisionOverflow, Op: op, Identity: id, Err: part.ErrRevisionOverflow}
	}

	rec := &part.Record{
		Identity:  id,
		Base:      base,
		Revisions: []part.Revision{{Number: revision, IssuedAt: tx.s.clock.Now()}},
	}
	if filename != "" {
		rec.KnownFilenames = []string{filename}
	}

	tx.touch(id)
	tx.s.state.Records[id] = rec
	tx.s.byBase[base] = id
	return rec.Clone(), nil
}

// AppendRevision appends revision to id's history. The revision must be
// greater than every revision already issued and at most part.MaxRevision.
func (tx *Tx) AppendRevision(id part.LogicalIdentity, revision int) (*part.Record, error) {
	const op = "append revision"
	if !tx.writable {
		return nil, &part.Error{Code: part.CodeStoreIO, Op: op, Identity: id, Err: errReadOnly}
	}
	rec, ok := tx.s.state.Records[id]
	if !ok {
		return nil, &part.Error{Code: part.CodeUnknownIdentity, Op: op, Identity: id, Err: part.ErrUnknownIdentity}
	}
	if revision > part.MaxRevision {
		return nil, &part.Error{Code: part.CodeRevisionOverflow, Op: op, Identity: id, Err: part.ErrRevisionOverflow}
	}
	if revision <= rec.CurrentRevision() || revision < part.MinRevision {
		return nil, &part.Error{Code: part.CodeInvalidRevision, Op: op, Identity: id, Err: part.ErrInvalidRevision}
	}

	tx.touch(id)
	rec.Revisions = append(rec.Revisions, part.Revision{Number: revision, IssuedAt: tx.s.clock.Now()})
	return rec.Clone(), nil
}

// RecordFilename adds filename to id's known filenames. Recording a name
// twice, or recording "", is a no-op.
func (tx *Tx) RecordFilename(id part.LogicalIdentity, filename string) error {
	const op = "record filename"
	if !tx.writable {
		return &part.Error{Code: part.CodeStoreIO, Op: op, Identity: id, Err: errReadOnly}
	}
	rec, ok := tx.s.state.Records[id]
	if !ok {
		return &part.Error{Code: part.CodeUnknownIdentity, Op: op, Identity: id, Err: part.ErrUnknownIdentity}
	}
	if filename == "" || rec.HasFilename(filename) {
		return nil
	}

	tx.touch(id)
	rec.KnownFilenames = append(rec.KnownFilenames, filename)
	return nil
}

func (tx *Tx) bind(fp string) error {
	current := tx.s.state.Fingerprint
	switch {
	case current == fp:
		return nil
	case current == "":
		if !tx.writable {
			return &part.Error{Code: part.CodeStoreIO, Op: "bind", Err: errReadOnly}
		}
		tx.s.state.Fingerprint = fp
		tx.metaChanged = true
		return nil
	default:
		return &part.Error{
			Code: part.CodeNormalizerMismatch,
			Op:   "bind",
			Err:  fmt.Errorf("%w: store=%q, configured=%q", part.ErrNormalizerMismatch, current, fp),
		}
	}
}

// touch snapshots id before its first change in this transaction.
func (tx *Tx) touch(id part.LogicalIdentity) {
	if _, seen := tx.undo[id]; seen {
		return
	}
	tx.undo[id] = tx.s.state.Records[id].Clone()
	tx.dirty = append(tx.dirty, id)
}

func (tx *Tx) rollback() {
	for id, prev := range tx.undo {
		if prev == nil {
			if rec, ok := tx.s.state.Records[id]; ok {
				delete(tx.s.byBase, rec.Base)
			}
			delete(tx.s.state.Records, id)
			continue
		}
		tx.s.state.Records[id] = prev
	}
	tx.s.state.Fingerprint = tx.prevFP
	tx.undo = make(map[part.LogicalIdentity]*part.Record)
	tx.dirty = nil
	tx.metaChanged = false
}
