package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/partnum/internal/part"
	"github.com/roach88/partnum/internal/testutil"
)

// backendFactory opens a backend rooted at path.
type backendFactory func(t *testing.T, path string) Backend

// testBackends lists every durable backend the store contract runs against.
func testBackends() map[string]backendFactory {
	return map[string]backendFactory{
		"sqlite": func(t *testing.T, path string) Backend {
			t.Helper()
			b, err := OpenSQLite(path+".db", DefaultTimeout)
			require.NoError(t, err)
			return b
		},
		"jsonfile": func(t *testing.T, path string) Backend {
			t.Helper()
			b, err := OpenJSONFile(path + ".json")
			require.NoError(t, err)
			return b
		},
	}
}

// createTestStore opens a Store over a fresh backend with a deterministic
// clock. The backend path is returned so tests can reopen it.
func createTestStore(t *testing.T, factory backendFactory, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping")
	return openTestStore(t, factory, path, opts...), path
}

func openTestStore(t *testing.T, factory backendFactory, path string, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(testutil.NewDeterministicClock())}, opts...)
	s, err := Open(context.Background(), factory(t, path), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// memBackend is an in-memory Backend with failure injection.
type memBackend struct {
	mu sync.Mutex

	state   *State
	saves   int
	changed bool

	// failSave, when set, is returned by every Save.
	failSave error
	// transient makes the next n Saves fail with a retryable error.
	transient int
}

func newMemBackend() *memBackend {
	return &memBackend{state: NewState()}
}

func (m *memBackend) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = false
	return cloneState(m.state), nil
}

func (m *memBackend) Save(ctx context.Context, st *State, dirty []part.LogicalIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	if m.transient > 0 {
		m.transient--
		return errTransient
	}
	m.saves++
	m.state = cloneState(st)
	return nil
}

func (m *memBackend) Changed(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed, nil
}

func (m *memBackend) Close() error { return nil }

// put replaces the durable state as another process would.
func (m *memBackend) put(st *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = cloneState(st)
	m.changed = true
}

func (m *memBackend) durable() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

func cloneState(st *State) *State {
	out := NewState()
	out.Fingerprint = st.Fingerprint
	for id, rec := range st.Records {
		out.Records[id] = rec.Clone()
	}
	return out
}

func openMemStore(t *testing.T, m *memBackend, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(testutil.NewDeterministicClock())}, opts...)
	s, err := Open(context.Background(), m, opts...)
	require.NoError(t, err)
	return s
}
