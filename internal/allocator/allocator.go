package allocator

import (
	"log/slog"

	"github.com/roach88/partnum/internal/part"
)

// DefaultMaxSaltedAttempts bounds the salted re-hash phase of collision
// resolution.
const DefaultMaxSaltedAttempts = 1024

// BaseIndex answers whether a base part number is already owned. The
// mapping store's reverse index implements it.
type BaseIndex interface {
	BaseTaken(base string) bool
}

// Allocator mints base part numbers against a BaseIndex.
//
// Thread-safety: Allocator holds no mutable state. Callers must hold the
// store's write lock between AllocateBase and recording the result, or two
// identities could be handed the same free number.
type Allocator struct {
	maxSalted int
	space     uint64
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxSaltedAttempts sets how many salted re-hashes are tried before
// linear probing. Values below 1 are treated as 1.
func WithMaxSaltedAttempts(n int) Option {
	return func(a *Allocator) {
		if n < 1 {
			n = 1
		}
		a.maxSalted = n
	}
}

// WithSpace shrinks the base space. Only useful for exercising
// exhaustion; production allocators use part.BaseSpace.
func WithSpace(n uint64) Option {
	return func(a *Allocator) {
		if n > 0 && n <= part.BaseSpace {
			a.space = n
		}
	}
}

// New creates an Allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		maxSalted: DefaultMaxSaltedAttempts,
		space:     part.BaseSpace,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AllocateBase returns a base part number for identity that idx does not
// already own. It fails with part.ErrAllocationExhausted only when every
// number in the space is taken.
func (a *Allocator) AllocateBase(identity part.LogicalIdentity, idx BaseIndex) (string, error) {
	var candidate uint64
	for salt := 0; salt < a.maxSalted; salt++ {
		candidate = derive(identity, uint32(salt), a.space)
		base := part.FormatBase(candidate)
		if !idx.BaseTaken(base) {
			if salt > 0 {
				slog.Debug("base collision resolved by re-hash",
					"identity", identity,
					"salt", salt,
					"base", base,
				)
			}
			return base, nil
		}
	}

	for i := uint64(1); i <= a.space; i++ {
		base := part.FormatBase((candidate + i) % a.space)
		if !idx.BaseTaken(base) {
			slog.Warn("base collision resolved by linear probe",
				"identity", identity,
				"salted_attempts", a.maxSalted,
				"base", base,
			)
			return base, nil
		}
	}

	return "", &part.Error{
		Code:     part.CodeAllocationExhausted,
		Op:       "allocate base",
		Identity: identity,
		Err:      part.ErrAllocationExhausted,
	}
}

// AllocateRevision returns the revision to issue next for rec.
//
// A nil rec is a brand-new identity and gets part.MinRevision. Otherwise
// requested == 0 means "next": CurrentRevision()+1. A non-zero requested
// revision must be greater than the current one and at most
// part.MaxRevision. Going past 999 fails with part.ErrRevisionOverflow;
// it never wraps.
func AllocateRevision(rec *part.Record, requested int) (int, error) {
	current := 0
	var identity part.LogicalIdentity
	if rec != nil {
		current = rec.CurrentRevision()
		identity = rec.Identity
	}

	next := requested
	if next == 0 {
		next = current + 1
	}

	if next > part.MaxRevision {
		return 0, &part.Error{
			Code:     part.CodeRevisionOverflow,
			Op:       "allocate revision",
			Identity: identity,
			Err:      part.ErrRevisionOverflow,
		}
	}
	if next < part.MinRevision || next <= current {
		return 0, &part.Error{
			Code:     part.CodeInvalidRevision,
			Op:       "allocate revision",
			Identity: identity,
			Err:      part.ErrInvalidRevision,
		}
	}
	return next, nil
}
