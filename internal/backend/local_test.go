package backend

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/model"
)

func sampleTasks() []model.Record {
	return []model.Record{
		{"id": "2", "text": "Walk dog", "completed": true, "priority": "low"},
		{"id": "1", "text": "Buy milk", "completed": false, "priority": "high", "color": "blue"},
	}
}

func TestLocalLoadMissingFile(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)

	snap, err := l.Load(t.Context(), model.KindTasks)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.NotNil(t, snap.Records)
	assert.Zero(t, snap.Rev)
}

func TestLocalPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, nil)

	rev, err := l.Persist(t.Context(), model.KindTasks, sampleTasks())
	require.NoError(t, err)
	assert.Zero(t, rev)
	assert.FileExists(t, filepath.Join(dir, "todos.json"))

	snap, err := NewLocal(dir, nil).Load(t.Context(), model.KindTasks)
	require.NoError(t, err)
	assert.Equal(t, sampleTasks(), snap.Records, "order and unknown fields survive")

	// Kinds are stored apart.
	notes, err := l.Load(t.Context(), model.KindNotes)
	require.NoError(t, err)
	assert.Empty(t, notes.Records)

	// Writing the same collection twice leaves the same file.
	before, err := os.ReadFile(l.Path(model.KindTasks))
	require.NoError(t, err)
	_, err = l.Persist(t.Context(), model.KindTasks, sampleTasks())
	require.NoError(t, err)
	after, err := os.ReadFile(l.Path(model.KindTasks))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLocalPersistEmptyCollection(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	_, err := l.Persist(t.Context(), model.KindNotes, nil)
	require.NoError(t, err)

	b, err := os.ReadFile(l.Path(model.KindNotes))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestLocalLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "todos.json"), []byte("{not json"), 0o600))

	_, err := NewLocal(dir, nil).Load(t.Context(), model.KindTasks)
	require.Error(t, err)
	assert.Equal(t, Other, KindOf(err))

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "local", pe.Backend)
	assert.Equal(t, "load", pe.Op)
}

func TestLocalPersistIntoFileFails(t *testing.T) {
	// The data dir is a regular file, so nothing can be created under it.
	file := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := NewLocal(file, nil).Persist(t.Context(), model.KindTasks, sampleTasks())
	require.Error(t, err)
	assert.NotEmpty(t, KindOf(err))
}

func TestLocalSubscribe(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, nil)
	_, err := l.Persist(t.Context(), model.KindTasks, sampleTasks()[:1])
	require.NoError(t, err)

	snaps := make(chan Snapshot, 8)
	unsub, err := l.Subscribe(t.Context(), model.KindTasks, func(s Snapshot) { snaps <- s }, func(err error) {
		t.Errorf("unexpected watch error: %v", err)
	})
	require.NoError(t, err)
	defer unsub()

	first := receive(t, snaps)
	assert.Len(t, first.Records, 1, "current content is delivered first")

	// Another process rewrites the file.
	other := NewLocal(dir, nil)
	_, err = other.Persist(t.Context(), model.KindTasks, sampleTasks())
	require.NoError(t, err)
	assert.Len(t, receive(t, snaps).Records, 2)

	// Our own writes are not echoed back.
	_, err = l.Persist(t.Context(), model.KindTasks, sampleTasks()[1:])
	require.NoError(t, err)
	assertNoSnapshot(t, snaps)

	unsub()
	unsub()
	_, err = other.Persist(t.Context(), model.KindTasks, nil)
	require.NoError(t, err)
	assertNoSnapshot(t, snaps)
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return Snapshot{}
	}
}

func assertNoSnapshot(t *testing.T, ch <-chan Snapshot) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot with %d records", len(s.Records))
	case <-time.After(300 * time.Millisecond):
	}
}

func TestLocalReloadNeverRecordsStaleContent(t *testing.T) {
	l := NewLocal(t.TempDir(), nil)
	_, err := l.Persist(t.Context(), model.KindTasks, sampleTasks())
	require.NoError(t, err)

	var pushed []int
	var mu sync.Mutex
	onSnapshot := func(s Snapshot) {
		mu.Lock()
		pushed = append(pushed, len(s.Records))
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 200 {
			_, err := l.Persist(t.Context(), model.KindTasks, sampleTasks()[:i%2+1])
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			l.reload(model.KindTasks, onSnapshot, func(err error) { t.Errorf("reload: %v", err) })
		}
	}()
	wg.Wait()

	// Only our own writes touched the file, so nothing is reported as new
	// and the recorded content matches the file.
	assert.Empty(t, pushed)
	b, err := os.ReadFile(l.Path(model.KindTasks))
	require.NoError(t, err)
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, sha256.Sum256(b), l.seen[model.KindTasks])
}
