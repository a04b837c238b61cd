package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/partnum/internal/part"
)

// DefaultTimeout bounds every store operation, lock wait included.
const DefaultTimeout = 5 * time.Second

// Backend persists a State durably.
//
// Save must be crash-atomic: after a crash the durable state is either the
// previous state or the new one, never a mix.
type Backend interface {
	// Load reads the durable state. A missing or empty store is an empty
	// State, not an error.
	Load(ctx context.Context) (*State, error)

	// Save persists st. dirty lists the identities changed since the last
	// Save; nil means "everything". Backends may ignore dirty and rewrite
	// the whole state. Save must not retain st.
	Save(ctx context.Context, st *State, dirty []part.LogicalIdentity) error

	// Changed reports whether the durable state was modified by someone
	// else since the last Load or Save.
	Changed(ctx context.Context) (bool, error)

	// Close releases the backend.
	Close() error
}

// errTransient marks backend errors worth retrying (lock contention).
var errTransient = errors.New("transient store error")

// Clock supplies revision issue timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Store is the in-memory mapping state plus its durable backend.
//
// Thread-safety: all methods are safe for concurrent use. Every operation
// runs under one exclusive lock; see the package documentation.
type Store struct {
	backend Backend
	clock   Clock
	timeout time.Duration
	retries uint64
	onFlush func(time.Duration)

	lock chan struct{}

	state  *State
	byBase map[string]part.LogicalIdentity
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp issued revisions.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithTimeout bounds each operation, lock wait and I/O included.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithFlushRetries sets how many times a flush that hit lock contention is
// retried. The store timeout still bounds the total time.
func WithFlushRetries(n uint64) Option {
	return func(s *Store) {
		s.retries = n
	}
}

// WithFlushObserver registers fn to be called with the duration of every
// successful flush.
func WithFlushObserver(fn func(time.Duration)) Option {
	return func(s *Store) {
		s.onFlush = fn
	}
}

// Open wraps backend in a Store and loads its state.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		clock:   systemClock{},
		timeout: DefaultTimeout,
		retries: 3,
		lock:    make(chan struct{}, 1),
		state:   NewState(),
		byBase:  make(map[string]part.LogicalIdentity),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Load replaces the in-memory state with the durable state and rebuilds
// the reverse indices.
func (s *Store) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return s.loadLocked(ctx)
}

// Flush durably persists the entire in-memory state.
func (s *Store) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.saveLocked(ctx, nil); err != nil {
		return ioError("flush", err)
	}
	return nil
}

// Update runs fn as one write transaction under the store lock. The
// changes fn makes are flushed once fn returns nil. If fn or the flush
// fails, every change fn made is rolled back in memory.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.refreshLocked(ctx); err != nil {
		return err
	}

	tx := newTx(s, true)
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if len(tx.dirty) == 0 && !tx.metaChanged {
		return nil
	}

	dirty := tx.dirty
	if dirty == nil {
		// Metadata only; an empty non-nil slice keeps backends from
		// rewriting every record.
		dirty = []part.LogicalIdentity{}
	}
	if err := s.saveLocked(ctx, dirty); err != nil {
		tx.rollback()
		return ioError("flush", err)
	}
	return nil
}

// View runs fn as a read-only transaction under the store lock. fn sees a
// consistent state; mutating calls on the Tx fail.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.refreshLocked(ctx); err != nil {
		return err
	}
	return fn(newTx(s, false))
}

// Get returns a copy of the record for id.
func (s *Store) Get(ctx context.Context, id part.LogicalIdentity) (*part.Record, bool, error) {
	var rec *part.Record
	var ok bool
	err := s.View(ctx, func(tx *Tx) error {
		rec, ok = tx.Get(id)
		return nil
	})
	return rec, ok, err
}

// GetByFullNumber returns a copy of the record that issued full. A
// malformed number fails with part.ErrMalformedPartNumber.
func (s *Store) GetByFullNumber(ctx context.Context, full string) (*part.Record, bool, error) {
	var rec *part.Record
	var ok bool
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		rec, ok, err = tx.GetByFullNumber(full)
		return err
	})
	return rec, ok, err
}

// UpsertNewAssignment creates the record for id and flushes it.
// See Tx.UpsertNewAssignment.
func (s *Store) UpsertNewAssignment(ctx context.Context, id part.LogicalIdentity, base string, revision int, filename string) (*part.Record, error) {
	var rec *part.Record
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.UpsertNewAssignment(id, base, revision, filename)
		return err
	})
	return rec, err
}

// AppendRevision appends revision to id's history and flushes it.
// See Tx.AppendRevision.
func (s *Store) AppendRevision(ctx context.Context, id part.LogicalIdentity, revision int) (*part.Record, error) {
	var rec *part.Record
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.AppendRevision(id, revision)
		return err
	})
	return rec, err
}

// RecordFilename remembers filename for id and flushes if it was new.
func (s *Store) RecordFilename(ctx context.Context, id part.LogicalIdentity, filename string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.RecordFilename(id, filename)
	})
}

// List returns copies of all records ordered by identity.
func (s *Store) List(ctx context.Context) ([]*part.Record, error) {
	var out []*part.Record
	err := s.View(ctx, func(tx *Tx) error {
		out = tx.Records()
		return nil
	})
	return out, err
}

// Bind checks the store against a normalization fingerprint. A store that
// has never been bound adopts and persists fp; a store bound to a
// different fingerprint fails with part.ErrNormalizerMismatch.
func (s *Store) Bind(ctx context.Context, fp string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.bind(fp)
	})
}

// Fingerprint returns the normalization fingerprint the store is bound to.
func (s *Store) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.View(ctx, func(tx *Tx) error {
		fp = tx.s.state.Fingerprint
		return nil
	})
	return fp, err
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &part.Error{Code: part.CodeStoreBusy, Op: "acquire store lock", Err: fmt.Errorf("%w: %w", part.ErrStoreBusy, ctx.Err())}
	}
}

func (s *Store) release() {
	<-s.lock
}

func (s *Store) loadLocked(ctx context.Context) error {
	st, err := s.backend.Load(ctx)
	if err != nil {
		return ioError("load", err)
	}
	byBase, err := indexBases(st)
	if err != nil {
		return err
	}
	s.state = st
	s.byBase = byBase

	slog.Debug("mapping store loaded", "records", len(st.Records))
	return nil
}

// refreshLocked reloads the state if another process changed it.
func (s *Store) refreshLocked(ctx context.Context) error {
	changed, err := s.backend.Changed(ctx)
	if err != nil {
		return ioError("check for external changes", err)
	}
	if !changed {
		return nil
	}
	slog.Info("mapping store changed externally, reloading")
	return s.loadLocked(ctx)
}

// saveLocked flushes through the backend, retrying lock contention with
// exponential backoff inside the operation deadline.
func (s *Store) saveLocked(ctx context.Context, dirty []part.LogicalIdentity) error {
	start := time.Now()
	op := func() error {
		err := s.backend.Save(ctx, s.state, dirty)
		if err != nil && !errors.Is(err, errTransient) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 25 * time.Millisecond
	policy.MaxElapsedTime = s.timeout
	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.retries), ctx)

	notify := func(err error, wait time.Duration) {
		slog.Warn("mapping store flush retry", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}

	elapsed := time.Since(start)
	if s.onFlush != nil {
		s.onFlush(elapsed)
	}
	slog.Debug("mapping store flushed",
		"dirty", len(dirty),
		"records", len(s.state.Records),
		"elapsed", elapsed,
	)
	return nil
}

// indexBases builds the base -> identity index. Two records sharing a base
// mean the durable store was edited by hand or corrupted.
func indexBases(st *State) (map[string]part.LogicalIdentity, error) {
	byBase := make(map[string]part.LogicalIdentity, len(st.Records))
	for id, rec := range st.Records {
		if owner, dup := byBase[rec.Base]; dup {
			return nil, &part.Error{
				Code:       part.CodeBaseConflict,
				Op:         "index store",
				Identity:   id,
				PartNumber: rec.Base,
				Err:        fmt.Errorf("%w: also owned by %q", part.ErrBaseConflict, owner),
			}
		}
		byBase[rec.Base] = id
	}
	return byBase, nil
}

func ioError(op string, err error) error {
	var pe *part.Error
	if errors.As(err, &pe) {
		return err
	}
	return &part.Error{Code: part.CodeStoreIO, Op: op, Err: err}
}
