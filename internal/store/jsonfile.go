package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/partnum/internal/part"
)

// jsonFileVersion is the document layout version written by JSONFileBackend.
const jsonFileVersion = 1

const tmpPrefix = ".partnum-"

// jsonDocument is the on-disk layout of a JSONFileBackend.
type jsonDocument struct {
	Version    int            `json:"version"`
	Normalizer string         `json:"normalizer,omitempty"`
	Records    []*part.Record `json:"records"`
}

// JSONFileBackend stores the whole mapping as one JSON document.
//
// Every Save rewrites the document: it is written to a temp file in the
// same directory, fsynced, and renamed over the previous file. A crash at
// any point leaves either the old document or the new one.
type JSONFileBackend struct {
	path string

	// stamp identifies the file content as of our last Load or Save.
	stamp fileStamp

	// write, when set, replaces the copy of the encoded document into the
	// temp file. Tests use it to simulate a crash mid-write.
	write func(w io.Writer, data []byte) error
}

type fileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

// OpenJSONFile opens the JSON document at path, creating its directory
// if needed. The file itself is created by the first Save. Temp files
// left over from an interrupted Save are removed.
func OpenJSONFile(path string) (*JSONFileBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	removeStaleTemps(dir, filepath.Base(path))
	return &JSONFileBackend{path: path}, nil
}

// Close is a no-op; the backend holds no open handles between calls.
func (b *JSONFileBackend) Close() error {
	return nil
}

// Load reads and validates the document. A missing or empty file is an
// empty State.
func (b *JSONFileBackend) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.stamp = fileStamp{}
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	st, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}

	b.stamp, err = statFile(b.path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func decodeDocument(data []byte) (*State, error) {
	st := NewState()
	if len(strings.TrimSpace(string(data))) == 0 {
		return st, nil
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version > jsonFileVersion {
		return nil, fmt.Errorf("document version %d is newer than supported version %d", doc.Version, jsonFileVersion)
	}

	st.Fingerprint = doc.Normalizer
	for _, rec := range doc.Records {
		if rec == nil {
			continue
		}
		if _, dup := st.Records[rec.Identity]; dup {
			return nil, fmt.Errorf("%w: %q appears twice", part.ErrDuplicateIdentity, rec.Identity)
		}
		if !part.ValidBase(rec.Base) {
			return nil, fmt.Errorf("%w: identity %q has base %q", part.ErrMalformedPartNumber, rec.Identity, rec.Base)
		}
		if err := checkRevisions(rec); err != nil {
			return nil, err
		}
		st.Records[rec.Identity] = rec
	}
	return st, nil
}

func checkRevisions(rec *part.Record) error {
	prev := 0
	for _, rev := range rec.Revisions {
		if rev.Number < part.MinRevision || rev.Number > part.MaxRevision || rev.Number <= prev {
			return fmt.Errorf("%w: identity %q has revision %d after %d", part.ErrInvalidRevision, rec.Identity, rev.Number, prev)
		}
		prev = rev.Number
	}
	return nil
}

// Save rewrites the whole document; dirty is ignored.
func (b *JSONFileBackend) Save(ctx context.Context, st *State, _ []part.LogicalIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := jsonDocument{
		Version:    jsonFileVersion,
		Normalizer: st.Fingerprint,
		Records:    st.Sorted(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data = append(data, '\n')

	if err := b.writeAtomic(data); err != nil {
		return err
	}

	b.stamp, err = statFile(b.path)
	return err
}

func (b *JSONFileBackend) writeAtomic(data []byte) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(b.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	write := b.write
	if write == nil {
		write = func(w io.Writer, p []byte) error {
			_, err := w.Write(p)
			return err
		}
	}
	if err := write(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true

	// The rename is only durable once the directory entry is.
	if err := syncDir(dir); err != nil {
		slog.Warn("sync store directory", "dir", dir, "error", err)
	}
	return nil
}

// Changed reports whether the file's size or modification time moved
// since our last Load or Save.
func (b *JSONFileBackend) Changed(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cur, err := statFile(b.path)
	if err != nil {
		return false, err
	}
	return cur != b.stamp, nil
}

func statFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileStamp{}, nil
	}
	if err != nil {
		return fileStamp{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return fileStamp{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func removeStaleTemps(dir, base string) {
	matches, err := filepath.Glob(filepath.Join(dir, tmpPrefix+base+"-*.tmp"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			slog.Debug("removed stale temp file", "path", m)
		}
	}
}
