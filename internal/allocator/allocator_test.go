package allocator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/partnum/internal/part"
)

// mapIndex is a BaseIndex over a plain set.
type mapIndex map[string]bool

func (m mapIndex) BaseTaken(base string) bool { return m[base] }

func TestDerive_Deterministic(t *testing.T) {
	a := Derive("bracket", 0)
	b := Derive("bracket", 0)
	assert.Equal(t, a, b)
	assert.True(t, part.ValidBase(a), "not 9 digits: %q", a)
}

func TestDerive_SaltChangesCandidate(t *testing.T) {
	assert.NotEqual(t, Derive("bracket", 0), Derive("bracket", 1))
	assert.NotEqual(t, Derive("bracket", 0), Derive("bracket ", 0))
}

func TestDerive_Spread(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 5000; i++ {
		seen[Derive(part.LogicalIdentity(fmt.Sprintf("part-%d", i)), 0)] = true
	}
	// 5000 draws from 10^9 should essentially never collide.
	assert.GreaterOrEqual(t, len(seen), 4999)
}

func TestAllocateBase_FreeCandidate(t *testing.T) {
	a := New()
	base, err := a.AllocateBase("bracket", mapIndex{})
	require.NoError(t, err)
	assert.Equal(t, Derive("bracket", 0), base)
}

func TestAllocateBase_CollisionRehashes(t *testing.T) {
	a := New()
	idx := mapIndex{Derive("bracket", 0): true}

	base, err := a.AllocateBase("bracket", idx)
	require.NoError(t, err)
	assert.Equal(t, Derive("bracket", 1), base)

	idx[Derive("bracket", 1)] = true
	base, err = a.AllocateBase("bracket", idx)
	require.NoError(t, err)
	assert.Equal(t, Derive("bracket", 2), base)
}

func TestAllocateBase_LinearProbeAfterSaltedAttempts(t *testing.T) {
	a := New(WithMaxSaltedAttempts(1))
	first := Derive("bracket", 0)
	idx := mapIndex{first: true}

	base, err := a.AllocateBase("bracket", idx)
	require.NoError(t, err)
	assert.NotEqual(t, first, base)
	assert.True(t, part.ValidBase(base))
}

func TestAllocateBase_Exhausted(t *testing.T) {
	a := New(WithSpace(4), WithMaxSaltedAttempts(2))
	idx := mapIndex{}

	for i := 0; i < 4; i++ {
		base, err := a.AllocateBase(part.LogicalIdentity(fmt.Sprintf("p%d", i)), idx)
		require.NoError(t, err)
		require.False(t, idx[base], "base %s handed out twice", base)
		idx[base] = true
	}

	_, err := a.AllocateBase("one-too-many", idx)
	require.Error(t, err)
	assert.ErrorIs(t, err, part.ErrAllocationExhausted)
	assert.Equal(t, part.CodeAllocationExhausted, part.CodeOf(err))
}

func TestAllocateRevision(t *testing.T) {
	rev, err := AllocateRevision(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rev)

	rec := &part.Record{Identity: "bracket", Base: "000000001", Revisions: []part.Revision{{Number: 1}}}
	rev, err = AllocateRevision(rec, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, rev)

	rev, err = AllocateRevision(rec, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, rev)
}

func TestAllocateRevision_Invalid(t *testing.T) {
	rec := &part.Record{Identity: "bracket", Base: "000000001", Revisions: []part.Revision{{Number: 1}, {Number: 5}}}

	_, err := AllocateRevision(rec, 5)
	assert.ErrorIs(t, err, part.ErrInvalidRevision)

	_, err = AllocateRevision(rec, 3)
	assert.ErrorIs(t, err, part.ErrInvalidRevision)

	_, err = AllocateRevision(rec, -2)
	assert.ErrorIs(t, err, part.ErrInvalidRevision)

	_, err = AllocateRevision(rec, 1000)
	assert.ErrorIs(t, err, part.ErrRevisionOverflow)
}

func TestAllocateRevision_OverflowAt999(t *testing.T) {
	rec := &part.Record{Identity: "bracket", Base: "000000001", Revisions: []part.Revision{{Number: part.MaxRevision}}}
	_, err := AllocateRevision(rec, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, part.ErrRevisionOverflow)
	assert.Equal(t, part.CodeRevisionOverflow, part.CodeOf(err))
}
