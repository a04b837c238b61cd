// Package rename maps files that were renamed to their part number back to
// the identity and filenames they were assigned under.
package rename

import (
	"strings"

	"github.com/roach88/partnum/internal/part"
)

// Lookup is the reverse index rename resolution reads. *store.Tx
// satisfies it, so resolution can run inside a store transaction.
type Lookup interface {
	GetByFullNumber(full string) (*part.Record, bool, error)
}

// Match is a resolved renamed file.
type Match struct {
	// PartNumber is the 12-digit number the file is named after.
	PartNumber string

	// Revision is the revision encoded in PartNumber, which may be older
	// than the record's current revision.
	Revision int

	// Record is a copy of the owning record.
	Record *part.Record

	// OriginalFilenames are the record's known filenames, without the
	// renamed name itself. Never nil.
	OriginalFilenames []string
}

// Identity returns the identity the renamed file belongs to.
func (m *Match) Identity() part.LogicalIdentity {
	return m.Record.Identity
}

// Resolve checks whether filename is named after an issued part number.
//
// It returns (nil, nil) when the name is not a 12-digit part number, and a
// Match when some record issued that number. A 12-digit name that no record
// owns fails with part.ErrOrphanedPartNumber; callers report that per file
// instead of treating the file as new.
func Resolve(l Lookup, filename string) (*Match, error) {
	full, ok := part.PartNumberName(filename)
	if !ok {
		return nil, nil
	}

	rec, found, err := l.GetByFullNumber(full)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &part.Error{
			Code:       part.CodeOrphanedPartNumber,
			Op:         "resolve renamed file",
			PartNumber: full,
			Err:        part.ErrOrphanedPartNumber,
		}
	}

	_, rev, err := part.Parse(full)
	if err != nil {
		return nil, err
	}
	return &Match{
		PartNumber:        full,
		Revision:          rev,
		Record:            rec,
		OriginalFilenames: originals(rec.KnownFilenames, filename),
	}, nil
}

func originals(known []string, renamed string) []string {
	self := strings.ToLower(part.BaseName(renamed))
	out := make([]string, 0, len(known))
	for _, f := range known {
		if strings.ToLower(part.BaseName(f)) == self {
			continue
		}
		out = append(out, f)
	}
	return out
}
