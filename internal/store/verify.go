package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/partnum/internal/part"
)

var errCorrupt = errors.New("corrupt store")

// Verify re-reads the durable state and checks every record invariant.
// All problems are reported together; nil means the store is sound.
//
// Checks:
//   - identity matches its map key (the empty identity is valid)
//   - base is 9 digits and owned by exactly one identity
//   - revisions are strictly increasing within [MinRevision, MaxRevision]
//   - known filenames are non-empty and unique
//   - the in-memory base index agrees with the durable state
func (s *Store) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	st, err := s.backend.Load(ctx)
	if err != nil {
		return ioError("verify", err)
	}

	var result *multierror.Error
	owners := make(map[string]part.LogicalIdentity, len(st.Records))
	for key, rec := range st.Records {
		for _, err := range checkRecord(key, rec) {
			result = multierror.Append(result, err)
		}
		if owner, dup := owners[rec.Base]; dup {
			result = multierror.Append(result, &part.Error{
				Code:       part.CodeBaseConflict,
				Op:         "verify",
				Identity:   rec.Identity,
				PartNumber: rec.Base,
				Err:        fmt.Errorf("%w: also owned by %q", part.ErrBaseConflict, owner),
			})
			continue
		}
		owners[rec.Base] = rec.Identity
	}

	for base, id := range owners {
		if mem, ok := s.byBase[base]; ok && mem != id {
			result = multierror.Append(result, fmt.Errorf("%w: base %s has durable owner %q, indexed owner %q", errCorrupt, base, id, mem))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	// Durable state is sound; adopt it.
	byBase, err := indexBases(st)
	if err != nil {
		return err
	}
	s.state = st
	s.byBase = byBase
	return nil
}

func checkRecord(key part.LogicalIdentity, rec *part.Record) []error {
	var errs []error
	bad := func(code part.Code, sentinel error, format string, args ...any) {
		errs = append(errs, &part.Error{
			Code:       code,
			Op:         "verify",
			Identity:   key,
			PartNumber: rec.Base,
			Err:        fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...),
		})
	}

	if rec.Identity != key {
		bad(part.CodeStoreIO, errCorrupt, "record identity %q filed under %q", rec.Identity, key)
	}
	if !part.ValidBase(rec.Base) {
		bad(part.CodeMalformedPartNumber, part.ErrMalformedPartNumber, "base %q", rec.Base)
	}
	if len(rec.Revisions) == 0 {
		bad(part.CodeInvalidRevision, part.ErrInvalidRevision, "no revisions issued")
	}
	prev := 0
	for _, rev := range rec.Revisions {
		switch {
		case rev.Number > part.MaxRevision:
			bad(part.CodeRevisionOverflow, part.ErrRevisionOverflow, "revision %d", rev.Number)
		case rev.Number < part.MinRevision || rev.Number <= prev:
			bad(part.CodeInvalidRevision, part.ErrInvalidRevision, "revision %d after %d", rev.Number, prev)
		}
		prev = rev.Number
	}
	seen := make(map[string]bool, len(rec.KnownFilenames))
	for _, f := range rec.KnownFilenames {
		if f == "" {
			bad(part.CodeStoreIO, errCorrupt, "empty known filename")
			continue
		}
		if seen[f] {
			bad(part.CodeStoreIO, errCorrupt, "filename %q listed twice", f)
		}
		seen[f] = true
	}
	return errs
}
