package backend

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/docserver"
	"github.com/Makepad-fr/tada/internal/model"
)

const testToken = "s3cret"

func newServer(t *testing.T) string {
	t.Helper()
	st, err := docserver.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	hs := httptest.NewServer(docserver.New(st, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(hs.Close)
	return hs.URL
}

func newRemote(t *testing.T, url, identity string) *Remote {
	t.Helper()
	r, err := NewRemote(url, identity, testToken,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithRetryInterval(20*time.Millisecond))
	require.NoError(t, err)
	return r
}

func TestNewRemoteValidates(t *testing.T) {
	_, err := NewRemote("ftp://example.com", "alice", testToken)
	assert.Error(t, err)
	_, err = NewRemote("http://example.com", "", testToken)
	assert.Error(t, err)

	r, err := NewRemote("http://example.com", "alice", testToken)
	require.NoError(t, err)
	assert.Equal(t, "remote:alice", r.Name())
}

func TestRemoteLoadEmptyDocument(t *testing.T) {
	r := newRemote(t, newServer(t), auth.Identity(testToken))

	snap, err := r.Load(t.Context(), model.KindTasks)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Zero(t, snap.Rev)
}

func TestRemotePersistLeavesSiblingKind(t *testing.T) {
	r := newRemote(t, newServer(t), auth.Identity(testToken))

	rev, err := r.Persist(t.Context(), model.KindTasks, sampleTasks())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	rev, err = r.Persist(t.Context(), model.KindNotes, []model.Record{{"id": "9", "title": "Groceries"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	tasks, err := r.Load(t.Context(), model.KindTasks)
	require.NoError(t, err)
	assert.Equal(t, sampleTasks(), tasks.Records)
	assert.Equal(t, int64(2), tasks.Rev)

	rev, err = r.Persist(t.Context(), model.KindTasks, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)

	notes, err := r.Load(t.Context(), model.KindNotes)
	require.NoError(t, err)
	assert.Len(t, notes.Records, 1)
	tasks, err = r.Load(t.Context(), model.KindTasks)
	require.NoError(t, err)
	assert.Empty(t, tasks.Records)
}

func TestRemoteOtherIdentityDenied(t *testing.T) {
	r := newRemote(t, newServer(t), "someone-else")

	_, err := r.Load(t.Context(), model.KindTasks)
	require.Error(t, err)
	assert.Equal(t, PermissionDenied, KindOf(err))

	_, err = r.Persist(t.Context(), model.KindTasks, sampleTasks())
	require.Error(t, err)
	assert.Equal(t, PermissionDenied, KindOf(err))

	errs := make(chan error, 4)
	unsub, err := r.Subscribe(t.Context(), model.KindTasks, func(Snapshot) {
		t.Error("no snapshot expected")
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	require.NoError(t, err)
	defer unsub()

	select {
	case err := <-errs:
		assert.Equal(t, PermissionDenied, KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the watch error")
	}
}

func TestRemoteUnavailable(t *testing.T) {
	hs := httptest.NewServer(nil)
	url := hs.URL
	hs.Close()

	r := newRemote(t, url, "alice")
	_, err := r.Load(t.Context(), model.KindTasks)
	require.Error(t, err)
	assert.Equal(t, Unavailable, KindOf(err))
}

func TestRemoteSubscribe(t *testing.T) {
	url := newServer(t)
	identity := auth.Identity(testToken)
	r := newRemote(t, url, identity)

	snaps := make(chan Snapshot, 8)
	unsub, err := r.Subscribe(t.Context(), model.KindTasks, func(s Snapshot) { snaps <- s }, nil)
	require.NoError(t, err)
	defer unsub()

	first := receive(t, snaps)
	assert.Empty(t, first.Records)
	assert.Zero(t, first.Rev)

	// A write from another client is pushed to us.
	_, err = newRemote(t, url, identity).Persist(t.Context(), model.KindTasks, sampleTasks())
	require.NoError(t, err)
	next := receive(t, snaps)
	assert.Equal(t, int64(1), next.Rev)
	assert.Equal(t, sampleTasks(), next.Records)

	unsub()
	_, err = newRemote(t, url, identity).Persist(t.Context(), model.KindTasks, nil)
	require.NoError(t, err)
	assertNoSnapshot(t, snaps)
}
