package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store"
)

// memBackend is a backend holding one fixed collection per kind.
type memBackend struct {
	name string
	mu   sync.Mutex
	data map[model.Kind][]model.Record
}

func newMemBackend(name string, tasks ...string) *memBackend {
	m := &memBackend{name: name, data: map[model.Kind][]model.Record{}}
	for i, text := range tasks {
		m.data[model.KindTasks] = append(m.data[model.KindTasks], model.SerializeTask(model.Task{
			ID: string(rune('1' + i)), Text: text, Priority: model.PriorityMedium,
		}))
	}
	return m
}

func (m *memBackend) Name() string { return m.name }

func (m *memBackend) Load(_ context.Context, kind model.Kind) (backend.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return backend.Snapshot{Records: append([]model.Record(nil), m.data[kind]...)}, nil
}

func (m *memBackend) Subscribe(ctx context.Context, kind model.Kind, onSnapshot func(backend.Snapshot), _ func(error)) (backend.Unsubscribe, error) {
	snap, _ := m.Load(ctx, kind)
	onSnapshot(snap)
	return func() {}, nil
}

func (m *memBackend) Persist(_ context.Context, kind model.Kind, recs []model.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kind] = recs
	return 0, nil
}

func (m *memBackend) count(kind model.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[kind])
}

// recorder is a Binding that logs the calls it receives.
type recorder struct {
	log *[]string
}

func (r recorder) Bind(_ context.Context, b backend.Backend) error {
	*r.log = append(*r.log, "bind "+b.Name())
	return nil
}

func (r recorder) Unbind() { *r.log = append(*r.log, "unbind") }

type fixture struct {
	binder  *Binder
	log     []string
	states  []State
	local   *memBackend
	remotes map[string]*memBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		local: newMemBackend("local"),
		remotes: map[string]*memBackend{
			"alice": newMemBackend("remote:alice"),
			"bob":   newMemBackend("remote:bob"),
		},
	}
	f.binder = New(Backends{
		Local: func() backend.Backend { return f.local },
		Remote: func(identity, _ string) (backend.Backend, error) {
			b, ok := f.remotes[identity]
			if !ok {
				return nil, errors.New("no such account")
			}
			return b, nil
		},
	}, nil, recorder{log: &f.log})
	f.binder.OnChange(func(s State) { f.states = append(f.states, s) })
	return f
}

func TestSignedOutBindsLocal(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedOut()))

	state, bound := f.binder.State()
	assert.True(t, bound)
	assert.True(t, state.IsGuest())
	assert.Equal(t, []string{"unbind", "bind local"}, f.log)
	assert.Equal(t, []State{Guest()}, f.states)

	// Repeating the same state does nothing.
	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedOut()))
	assert.Len(t, f.log, 2)
}

func TestGuestToAuthenticated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedOut()))

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("alice", "t1")))

	assert.Equal(t, []string{"unbind", "bind local", "unbind", "bind remote:alice"}, f.log)
	assert.Equal(t, []State{Guest(), Authenticated("alice")}, f.states)
	assert.Equal(t, "remote:alice", f.binder.Backend().Name())
}

func TestSwitchingAccountsPassesThroughGuest(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("alice", "t1")))
	f.log, f.states = nil, nil

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("bob", "t2")))

	assert.Equal(t, []State{Guest(), Authenticated("bob")}, f.states)
	assert.Equal(t, []string{"unbind", "bind local", "unbind", "bind remote:bob"}, f.log)
}

func TestTokenRefreshRebindsWithoutGuest(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("alice", "t1")))
	f.log, f.states = nil, nil

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("alice", "t1")))
	assert.Empty(t, f.log)

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("alice", "t2")))
	assert.Equal(t, []State{Authenticated("alice")}, f.states)
}

func TestRemoteFailureLeavesStoresUnbound(t *testing.T) {
	f := newFixture(t)

	err := f.binder.Handle(t.Context(), auth.SignedIn("mallory", "t"))
	require.Error(t, err)

	_, bound := f.binder.State()
	assert.False(t, bound)
	assert.Nil(t, f.binder.Backend())
	assert.Equal(t, []string{"unbind"}, f.log)
}

func TestNoMigrationOnSignIn(t *testing.T) {
	f := newFixture(t)
	f.remotes["alice"] = newMemBackend("remote:alice", "remote task")
	tasks := store.NewTaskStore()
	f.binder = New(f.binder.backends, nil, tasks)

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedOut()))
	_, err := tasks.Add(store.TaskFields{Text: "guest task"})
	require.NoError(t, err)
	flushStore(t, tasks)

	require.NoError(t, f.binder.Handle(t.Context(), auth.SignedIn("alice", "t1")))
	flushStore(t, tasks)

	items := tasks.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "remote task", items[0].Text)
	assert.Equal(t, 1, f.remotes["alice"].count(model.KindTasks))
	assert.Equal(t, 1, f.local.count(model.KindTasks))
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t)
	events := make(chan auth.Event, 3)
	events <- auth.SignedOut()
	events <- auth.SignedIn("alice", "t1")
	close(events)

	require.NoError(t, f.binder.Run(t.Context(), events))

	assert.Equal(t, []State{Guest(), Authenticated("alice")}, f.states)
	_, bound := f.binder.State()
	assert.False(t, bound, "Run unbinds on exit")
	assert.Equal(t, "unbind", f.log[len(f.log)-1])
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.binder.Run(ctx, make(chan auth.Event)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func flushStore(t *testing.T, s *store.TaskStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}
