package store

import (
	"sort"

	"github.com/roach88/partnum/internal/part"
)

// State is the complete durable content of a store.
type State struct {
	// Fingerprint identifies the normalization rules the identities were
	// built with. Empty until the first write.
	Fingerprint string

	// Records holds one record per identity.
	Records map[part.LogicalIdentity]*part.Record
}

// NewState returns an empty State.
func NewState() *State {
	return &State{Records: make(map[part.LogicalIdentity]*part.Record)}
}

// Sorted returns the records ordered by identity.
func (st *State) Sorted() []*part.Record {
	out := make([]*part.Record, 0, len(st.Records))
	for _, rec := range st.Records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Select returns the records named by ids, skipping unknown identities.
// A nil ids selects every record.
func (st *State) Select(ids []part.LogicalIdentity) []*part.Record {
	if ids == nil {
		return st.Sorted()
	}
	out := make([]*part.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := st.Records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}
