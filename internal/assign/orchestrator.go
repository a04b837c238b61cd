package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/partnum/internal/allocator"
	"github.com/roach88/partnum/internal/identity"
	"github.com/roach88/partnum/internal/part"
	"github.com/roach88/partnum/internal/rename"
	"github.com/roach88/partnum/internal/store"
)

// Orchestrator composes normalization, allocation, rename resolution and
// the mapping store.
//
// Thread-safety: all methods are safe for concurrent use; serialization is
// provided by the store.
type Orchestrator struct {
	store      *store.Store
	normalizer *identity.Normalizer
	allocator  *allocator.Allocator
	batchIDs   BatchIDGenerator
	metrics    *Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAllocator overrides the default allocator.
func WithAllocator(a *allocator.Allocator) Option {
	return func(o *Orchestrator) {
		o.allocator = a
	}
}

// WithBatchIDGenerator overrides the UUIDv7 batch ID generator.
func WithBatchIDGenerator(g BatchIDGenerator) Option {
	return func(o *Orchestrator) {
		o.batchIDs = g
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator and binds the store to the normalizer's
// rules. A store created under different rules fails with
// part.ErrNormalizerMismatch.
func New(ctx context.Context, st *store.Store, n *identity.Normalizer, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		store:      st,
		normalizer: n,
		allocator:  allocator.New(),
		batchIDs:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := st.Bind(ctx, n.Rules().Fingerprint()); err != nil {
		return nil, err
	}
	return o, nil
}

// Batch is the outcome of one ResolveOrCreate or Status call.
type Batch struct {
	ID      string        `json:"batchId"`
	Results []part.Result `json:"results"`
}

// Summary aggregates a batch the way a folder scan reports it.
type Summary struct {
	Total           int  `json:"total"`
	Processed       int  `json:"processed"`
	New             int  `json:"new"`
	Warnings        int  `json:"warnings"`
	HasRenamedFiles bool `json:"hasRenamedFiles"`
}

// Summary counts the batch's results. Processed files already had a
// mapping; new files did not.
func (b *Batch) Summary() Summary {
	s := Summary{Total: len(b.Results)}
	for _, r := range b.Results {
		if r.HasMapping {
			s.Processed++
		} else {
			s.New++
		}
		if r.Err != nil {
			s.Warnings++
		}
		if r.IsRenamedFile {
			s.HasRenamedFiles = true
		}
	}
	return s
}

// ResolveOrCreate returns one result per descriptor, in input order,
// allocating part numbers for identities the store has never seen.
func (o *Orchestrator) ResolveOrCreate(ctx context.Context, descs []part.Descriptor) (*Batch, error) {
	batch := &Batch{ID: o.batchIDs.Generate(), Results: make([]part.Result, 0, len(descs))}
	log := slog.With("batch", batch.ID)

	var outcomes []string
	err := o.store.Update(ctx, func(tx *store.Tx) error {
		batch.Results = batch.Results[:0]
		outcomes = outcomes[:0]
		for _, d := range descs {
			res, outcome, err := o.resolve(tx, d, true)
			if err != nil {
				return err
			}
			if res.Err != nil {
				log.Warn("file not resolved", "file", d.Filename, "error", res.Err)
			}
			batch.Results = append(batch.Results, res)
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		log.Error("batch aborted", "files", len(descs), "error", err)
		return nil, err
	}

	for _, outcome := range outcomes {
		o.metrics.outcome(outcome)
	}
	sum := batch.Summary()
	log.Info("batch resolved",
		"files", sum.Total,
		"new", sum.New,
		"existing", sum.Processed,
		"warnings", sum.Warnings,
	)
	return batch, nil
}

// Status reports what ResolveOrCreate would find for each descriptor
// without allocating or recording anything.
func (o *Orchestrator) Status(ctx context.Context, descs []part.Descriptor) (*Batch, error) {
	batch := &Batch{ID: o.batchIDs.Generate(), Results: make([]part.Result, 0, len(descs))}
	err := o.store.View(ctx, func(tx *store.Tx) error {
		for _, d := range descs {
			res, _, err := o.resolve(tx, d, false)
			if err != nil {
				return err
			}
			batch.Results = append(batch.Results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("status checked", "batch", batch.ID, "files", len(descs))
	return batch, nil
}

// resolve runs the per-file algorithm. With create false nothing is
// allocated or recorded. The returned error aborts the batch; per-file
// problems are carried in Result.Err.
//
// A renamed file reports its record's current revision, with the number it
// is named after in ExistingPartNumber. Its name is not added to the
// record's known filenames, so OriginalFilenames keep listing the names the
// part was assigned under.
func (o *Orchestrator) resolve(tx *store.Tx, d part.Descriptor, create bool) (part.Result, string, error) {
	res := part.Result{Filename: d.Filename, OriginalFilenames: []string{}}

	m, err := rename.Resolve(tx, d.Filename)
	if err != nil {
		if !part.IsWarning(err) {
			return res, "", err
		}
		full, _ := part.PartNumberName(d.Filename)
		res.Identity = o.identityOf(d)
		res.IsRenamedFile = true
		res.ExistingPartNumber = full
		res.Err = err
		return res, OutcomeOrphaned, nil
	}
	if m != nil {
		res.Identity = m.Identity()
		res.IsRenamedFile = true
		res.HasMapping = true
		res.OriginalFilenames = m.OriginalFilenames
		fillFromRecord(&res, m.Record)
		res.ExistingPartNumber = m.PartNumber
		return res, OutcomeRenamed, nil
	}

	id := o.identityOf(d)
	res.Identity = id

	if rec, ok := tx.Get(id); ok {
		if create {
			if err := tx.RecordFilename(id, d.Filename); err != nil {
				return res, "", err
			}
		}
		fillFromRecord(&res, rec)
		res.HasMapping = true
		res.ExistingPartNumber = res.FullPartNumber
		return res, OutcomeExisting, nil
	}
	if !create {
		return res, OutcomeNew, nil
	}

	base, err := o.allocator.AllocateBase(id, tx)
	if err != nil {
		return res, "", err
	}
	rev, err := allocator.AllocateRevision(nil, 0)
	if err != nil {
		return res, "", err
	}
	rec, err := tx.UpsertNewAssignment(id, base, rev, d.Filename)
	if err != nil {
		return res, "", err
	}
	slog.Debug("part number assigned", "identity", id, "base", base, "revision", rev)

	fillFromRecord(&res, rec)
	res.IsNew = true
	return res, OutcomeNew, nil
}

func (o *Orchestrator) identityOf(d part.Descriptor) part.LogicalIdentity {
	if d.Identity != "" {
		return d.Identity
	}
	return o.normalizer.Normalize(d.Filename)
}

func fillFromRecord(res *part.Result, rec *part.Record) {
	res.BasePartNumber = rec.Base
	res.Revision = rec.CurrentRevision()
	res.FullPartNumber = rec.FullPartNumber()
}

// CreateRevision issues the next revision for the part filename belongs to.
// A file named after a part number revises the part it was renamed from.
// requested == 0 means current+1; otherwise requested must be greater than
// the current revision and at most part.MaxRevision.
//
// A file whose identity was never resolved fails with
// part.ErrUnknownIdentity.
func (o *Orchestrator) CreateRevision(ctx context.Context, filename string, requested int) (*part.Record, error) {
	var rec *part.Record
	err := o.store.Update(ctx, func(tx *store.Tx) error {
		id, err := o.identityForFile(tx, filename)
		if err != nil {
			return err
		}
		rec, err = o.appendRevision(tx, id, requested)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.metrics.revision()
	return rec, nil
}

// CreateRevisionForIdentity is CreateRevision for a caller that already
// knows the identity.
func (o *Orchestrator) CreateRevisionForIdentity(ctx context.Context, id part.LogicalIdentity, requested int) (*part.Record, error) {
	var rec *part.Record
	err := o.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		rec, err = o.appendRevision(tx, id, requested)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.metrics.revision()
	return rec, nil
}

func (o *Orchestrator) appendRevision(tx *store.Tx, id part.LogicalIdentity, requested int) (*part.Record, error) {
	current, ok := tx.Get(id)
	if !ok {
		return nil, &part.Error{
			Code:     part.CodeUnknownIdentity,
			Op:       "create revision",
			Identity: id,
			Err:      fmt.Errorf("%w: resolve the file before revising it", part.ErrUnknownIdentity),
		}
	}
	rev, err := allocator.AllocateRevision(current, requested)
	if err != nil {
		return nil, err
	}
	rec, err := tx.AppendRevision(id, rev)
	if err != nil {
		return nil, err
	}
	slog.Info("revision created",
		"identity", id,
		"base", rec.Base,
		"revision", rev,
		"part", rec.FullPartNumber(),
	)
	return rec, nil
}

// identityForFile maps filename to its identity, following renamed files
// back to their record.
func (o *Orchestrator) identityForFile(tx *store.Tx, filename string) (part.LogicalIdentity, error) {
	m, err := rename.Resolve(tx, filename)
	if err != nil {
		return "", err
	}
	if m != nil {
		return m.Identity(), nil
	}
	return o.normalizer.Normalize(filename), nil
}

// Adopt records full, a part number already written into filename's
// properties, as the assignment for filename's identity.
//
//   - An unmapped identity takes full's base and revision, provided no other
//     identity owns the base
//   - A mapped identity must already own full's base; a higher revision is
//     appended, an issued one is accepted as is
//
// Anything else fails with part.ErrBaseConflict or part.ErrInvalidRevision.
// A file named after a number no record owns can only adopt that number.
func (o *Orchestrator) Adopt(ctx context.Context, filename, full string) (part.Result, error) {
	const op = "adopt part number"
	res := part.Result{Filename: filename, OriginalFilenames: []string{}, ExistingPartNumber: full}

	base, rev, err := part.Parse(full)
	if err != nil {
		return res, err
	}
	if rev < part.MinRevision {
		return res, &part.Error{Code: part.CodeInvalidRevision, Op: op, PartNumber: full, Err: part.ErrInvalidRevision}
	}

	err = o.store.Update(ctx, func(tx *store.Tx) error {
		named, renamed := part.PartNumberName(filename)
		id, err := o.identityForFile(tx, filename)
		switch {
		case err == nil:
		case errors.Is(err, part.ErrOrphanedPartNumber) && named == full:
			// The file carries the number being adopted in its own name.
			id = o.normalizer.Normalize(filename)
			renamed = false
		default:
			return err
		}
		res.Identity = id
		res.IsRenamedFile = renamed
		recorded := filename
		if renamed {
			recorded = ""
		}

		rec, ok := tx.Get(id)
		if !ok {
			if owner, taken := tx.OwnerOf(base); taken {
				return &part.Error{
					Code:       part.CodeBaseConflict,
					Op:         op,
					Identity:   id,
					PartNumber: full,
					Err:        fmt.Errorf("%w: base owned by %q", part.ErrBaseConflict, owner),
				}
			}
			rec, err = tx.UpsertNewAssignment(id, base, rev, recorded)
			if err != nil {
				return err
			}
			fillFromRecord(&res, rec)
			res.IsNew = true
			return nil
		}

		if rec.Base != base {
			return &part.Error{
				Code:       part.CodeBaseConflict,
				Op:         op,
				Identity:   id,
				PartNumber: full,
				Err:        fmt.Errorf("%w: identity already has base %s", part.ErrBaseConflict, rec.Base),
			}
		}
		switch {
		case rev > rec.CurrentRevision():
			if rec, err = tx.AppendRevision(id, rev); err != nil {
				return err
			}
		case !rec.HasRevision(rev):
			return &part.Error{Code: part.CodeInvalidRevision, Op: op, Identity: id, PartNumber: full, Err: part.ErrInvalidRevision}
		}
		if err := tx.RecordFilename(id, recorded); err != nil {
			return err
		}
		fillFromRecord(&res, rec)
		res.HasMapping = true
		return nil
	})
	if err != nil {
		return res, err
	}

	o.metrics.outcome(OutcomeAdopted)
	slog.Info("part number adopted", "identity", res.Identity, "part", full)
	return res, nil
}

// Lookup returns the record that issued full.
func (o *Orchestrator) Lookup(ctx context.Context, full string) (*part.Record, error) {
	rec, ok, err := o.store.GetByFullNumber(ctx, full)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &part.Error{Code: part.CodeOrphanedPartNumber, Op: "lookup", PartNumber: full, Err: part.ErrOrphanedPartNumber}
	}
	return rec, nil
}

// List returns every record ordered by identity.
func (o *Orchestrator) List(ctx context.Context) ([]*part.Record, error) {
	return o.store.List(ctx)
}

// Normalize exposes the orchestrator's identity rules.
func (o *Orchestrator) Normalize(filename string) part.LogicalIdentity {
	return o.normalizer.Normalize(filename)
}
