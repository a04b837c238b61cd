package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/roach88/partnum/internal/part"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - records, revisions, filenames, meta
const currentSchemaVersion = 1

const metaNormalizer = "normalizer"

// SQLiteBackend stores the mapping in a SQLite database.
// Uses WAL mode so other processes can read while a flush commits.
type SQLiteBackend struct {
	db *sql.DB

	// dataVersion is PRAGMA data_version as of our last Load or Save. It
	// only moves when another connection commits.
	dataVersion int64

	// beforeCommit, when set, runs inside the flush transaction right
	// before COMMIT. Tests use it to interrupt a flush midway.
	beforeCommit func() error
}

// OpenSQLite creates or opens a SQLite database at path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode, so a returned flush survives power loss
//   - busy timeout equal to busyTimeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and data_version is per
	// connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, busyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Load reads every record with its revisions and filenames.
func (b *SQLiteBackend) Load(ctx context.Context) (*State, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load: begin tx: %w", err)
	}
	defer tx.Rollback() // read-only, never committed

	st := NewState()

	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaNormalizer).Scan(&st.Fingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load: meta: %w", err)
	}

	if err := loadRecords(ctx, tx, st); err != nil {
		return nil, err
	}
	if err := loadRevisions(ctx, tx, st); err != nil {
		return nil, err
	}
	if err := loadFilenames(ctx, tx, st); err != nil {
		return nil, err
	}

	if b.dataVersion, err = readDataVersion(ctx, tx); err != nil {
		return nil, err
	}
	return st, nil
}

func loadRecords(ctx context.Context, tx *sql.Tx, st *State) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT identity, base FROM records
		ORDER BY identity COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("load: query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, base string
		if err := rows.Scan(&id, &base); err != nil {
			return fmt.Errorf("load: scan record: %w", err)
		}
		st.Records[part.LogicalIdentity(id)] = &part.Record{
			Identity: part.LogicalIdentity(id),
			Base:     base,
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load: iterate records: %w", err)
	}
	return nil
}

func loadRevisions(ctx context.Context, tx *sql.Tx, st *State) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT identity, revision, issued_at FROM revisions
		ORDER BY identity COLLATE BINARY ASC, revision ASC
	`)
	if err != nil {
		return fmt.Errorf("load: query revisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, issued string
		var rev int
		if err := rows.Scan(&id, &rev, &issued); err != nil {
			return fmt.Errorf("load: scan revision: %w", err)
		}
		rec, ok := st.Records[part.LogicalIdentity(id)]
		if !ok {
			return fmt.Errorf("load: revision %d for unknown identity %q", rev, id)
		}
		at, err := time.Parse(time.RFC3339Nano, issued)
		if err != nil {
			return fmt.Errorf("load: revision %d of %q: %w", rev, id, err)
		}
		rec.Revisions = append(rec.Revisions, part.Revision{Number: rev, IssuedAt: at})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load: iterate revisions: %w", err)
	}
	return nil
}

func loadFilenames(ctx context.Context, tx *sql.Tx, st *State) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT identity, filename FROM filenames
		ORDER BY identity COLLATE BINARY ASC, seq ASC
	`)
	if err != nil {
		return fmt.Errorf("load: query filenames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return fmt.Errorf("load: scan filename: %w", err)
		}
		rec, ok := st.Records[part.LogicalIdentity(id)]
		if !ok {
			return fmt.Errorf("load: filename %q for unknown identity %q", filename, id)
		}
		rec.KnownFilenames = append(rec.KnownFilenames, filename)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load: iterate filenames: %w", err)
	}
	return nil
}

// Save upserts the dirty records in one transaction. Rows are only ever
// inserted: bases, revisions and filenames are append-only, so an upsert
// of the whole record is the same as an upsert of its changes.
func (b *SQLiteBackend) Save(ctx context.Context, st *State, dirty []part.LogicalIdentity) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("save: begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaNormalizer, st.Fingerprint); err != nil {
		return classify(fmt.Errorf("save: meta: %w", err))
	}

	insRecord, err := tx.PrepareContext(ctx, `
		INSERT INTO records (identity, base) VALUES (?, ?)
		ON CONFLICT(identity) DO NOTHING
	`)
	if err != nil {
		return classify(fmt.Errorf("save: prepare records: %w", err))
	}
	defer insRecord.Close()

	insRevision, err := tx.PrepareContext(ctx, `
		INSERT INTO revisions (identity, revision, issued_at) VALUES (?, ?, ?)
		ON CONFLICT(identity, revision) DO NOTHING
	`)
	if err != nil {
		return classify(fmt.Errorf("save: prepare revisions: %w", err))
	}
	defer insRevision.Close()

	insFilename, err := tx.PrepareContext(ctx, `
		INSERT INTO filenames (identity, seq, filename) VALUES (?, ?, ?)
		ON CONFLICT(identity, filename) DO NOTHING
	`)
	if err != nil {
		return classify(fmt.Errorf("save: prepare filenames: %w", err))
	}
	defer insFilename.Close()

	for _, rec := range st.Select(dirty) {
		id := string(rec.Identity)
		if _, err := insRecord.ExecContext(ctx, id, rec.Base); err != nil {
			return classify(fmt.Errorf("save: record %q: %w", id, err))
		}
		var stored string
		if err := tx.QueryRowContext(ctx, `SELECT base FROM records WHERE identity = ?`, id).Scan(&stored); err != nil {
			return classify(fmt.Errorf("save: read back %q: %w", id, err))
		}
		if stored != rec.Base {
			return &part.Error{
				Code:       part.CodeBaseConflict,
				Op:         "save",
				Identity:   rec.Identity,
				PartNumber: rec.Base,
				Err:        fmt.Errorf("%w: database holds base %s", part.ErrBaseConflict, stored),
			}
		}
		for _, rev := range rec.Revisions {
			issued := rev.IssuedAt.UTC().Format(time.RFC3339Nano)
			if _, err := insRevision.ExecContext(ctx, id, rev.Number, issued); err != nil {
				return classify(fmt.Errorf("save: revision %d of %q: %w", rev.Number, id, err))
			}
		}
		for i, filename := range rec.KnownFilenames {
			if _, err := insFilename.ExecContext(ctx, id, i, filename); err != nil {
				return classify(fmt.Errorf("save: filename %q of %q: %w", filename, id, err))
			}
		}
	}

	if b.beforeCommit != nil {
		if err := b.beforeCommit(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("save: commit: %w", err))
	}

	v, err := readDataVersion(ctx, b.db)
	if err != nil {
		return err
	}
	b.dataVersion = v
	return nil
}

// Changed reports whether another connection committed since our last
// Load or Save.
func (b *SQLiteBackend) Changed(ctx context.Context) (bool, error) {
	v, err := readDataVersion(ctx, b.db)
	if err != nil {
		return false, err
	}
	return v != b.dataVersion, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDataVersion(ctx context.Context, q queryRower) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read data_version: %w", err)
	}
	return v, nil
}

// classify marks lock contention as transient so the store retries it.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", errTransient, err)
	}
	return err
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, busyTimeout time.Duration) error {
	if busyTimeout <= 0 {
		busyTimeout = DefaultTimeout
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and stamps the schema
// version. A database written by a newer schema is refused.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (b *SQLiteBackend) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := b.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
