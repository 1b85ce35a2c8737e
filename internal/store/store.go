// Package store owns the canonical in-memory collections of tasks and notes.
//
// Every mutation is applied to memory first and observed immediately by
// listeners; the new collection is then written to the active backend by a
// single background worker per store, in mutation order. Snapshots pushed by
// the backend replace the collection wholesale and are never written back.
package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
)

// Store is the reconciling store for one item kind. TaskStore and NoteStore
// add the kind-specific mutations on top of it.
type Store[T model.Item] struct {
	codec model.Codec[T]
	opts  options

	mu        sync.Mutex
	coll      *Collection[T]
	backend   backend.Backend
	unsub     backend.Unsubscribe
	epoch     uint64 // bumped on every bind/unbind; gates late snapshot callbacks
	synced    bool
	syncedCh  chan struct{}
	unsynced  []string // ids added before the first snapshot of this epoch
	lastID    int64
	listeners []listener[T]
	nextL     int
	version   uint64
	onReset   func() // called with mu held whenever the collection is reset

	// persistence state, guarded by mu
	jobs    []persistJob
	running bool
	idle    chan struct{}
	pending    int   // writes of this epoch not yet acknowledged
	minRev     int64 // revision of the last acknowledged write
	appliedRev int64 // highest snapshot revision applied in this epoch
	stale      bool  // the last write of this epoch failed

	notifyMu sync.Mutex
	notified uint64
}

type listener[T any] struct {
	id int
	fn func([]T)
}

type persistJob struct {
	backend backend.Backend
	epoch   uint64
	recs    []model.Record
	count   int // mutations coalesced into this write
}

func newStore[T model.Item](codec model.Codec[T], opts []Option) *Store[T] {
	return &Store[T]{
		codec:    codec,
		opts:     buildOptions(opts),
		coll:     NewCollection[T](),
		syncedCh: make(chan struct{}),
	}
}

// Kind returns the item kind this store holds.
func (s *Store[T]) Kind() model.Kind { return s.codec.Kind }

// Backend returns the active backend, nil when unbound.
func (s *Store[T]) Backend() backend.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Items returns a copy of the collection in insertion order.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsLocked()
}

// Get returns a copy of the item with id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.coll.Get(id)
	if ok {
		it = s.codec.Clone(it)
	}
	return it, ok
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Len()
}

// OnChange registers fn to run after every mutation or snapshot with the
// new collection. Calls are serialised and never go back in time; a
// listener may read from the store but must not mutate it synchronously.
func (s *Store[T]) OnChange(fn func([]T)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextL++
	id := s.nextL
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Bind makes b the active backend: the previous subscription is closed, the
// collection starts empty, and b's live snapshots are applied from now on.
func (s *Store[T]) Bind(ctx context.Context, b backend.Backend) error {
	s.Unbind()

	s.mu.Lock()
	epoch, notify := s.resetLocked(b)
	s.mu.Unlock()
	notify()

	unsub, err := b.Subscribe(ctx, s.codec.Kind, func(snap backend.Snapshot) {
		s.applyFrom(epoch, snap)
	}, s.opts.onError)
	if err != nil {
		s.opts.onError(err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Unbound or rebound while subscribing.
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsub = unsub
	s.mu.Unlock()
	s.opts.logger.Debug("store bound", "kind", s.codec.Kind, "backend", b.Name())
	return nil
}

// Open makes b the active backend with a one-shot load and no live
// subscription. Used by short-lived commands.
func (s *Store[T]) Open(ctx context.Context, b backend.Backend) error {
	s.Unbind()

	s.mu.Lock()
	epoch, notify := s.resetLocked(b)
	s.mu.Unlock()
	notify()

	snap, err := b.Load(ctx, s.codec.Kind)
	if err != nil {
		s.opts.onError(err)
		return err
	}
	s.applyFrom(epoch, snap)
	return nil
}

// Unbind closes the live subscription synchronously: once it returns no
// snapshot from the previous backend is applied, even one already in flight.
// The in-memory collection is kept until the next Bind.
func (s *Store[T]) Unbind() {
	s.mu.Lock()
	s.epoch++
	unsub := s.unsub
	s.unsub = nil
	s.backend = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Store[T]) resetLocked(b backend.Backend) (uint64, func()) {
	s.epoch++
	s.backend = b
	s.coll = NewCollection[T]()
	s.synced = false
	s.syncedCh = make(chan struct{})
	s.unsynced = nil
	s.pending = 0
	s.minRev = 0
	s.appliedRev = 0
	s.stale = false
	if s.onReset != nil {
		s.onReset()
	}
	return s.epoch, s.changedLocked()
}

// WaitSynced blocks until the first snapshot of the current backend has
// been applied.
func (s *Store[T]) WaitSynced(ctx context.Context) error {
	s.mu.Lock()
	ch := s.syncedCh
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every write queued so far has been attempted.
func (s *Store[T]) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	ch := s.idle
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplySnapshot replaces the collection with snap as if the active backend
// had pushed it. It never triggers a write.
func (s *Store[T]) ApplySnapshot(snap backend.Snapshot) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	s.applyFrom(epoch, snap)
}

func (s *Store[T]) applyFrom(epoch uint64, snap backend.Snapshot) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	switch {
	case s.pending > 0:
		// A newer local state is on its way to the backend; the echo of
		// that write will bring us back in line.
		s.opts.logger.Debug("snapshot ignored, writes pending", "kind", s.codec.Kind, "pending", s.pending)
		s.mu.Unlock()
		return
	case s.stale:
		// Our last write failed: the backend is behind us, not ahead.
		s.opts.logger.Info("snapshot ignored, rewriting local state", "kind", s.codec.Kind)
		s.enqueueLocked()
		s.mu.Unlock()
		return
	case snap.Rev != 0 && (snap.Rev < s.minRev || snap.Rev < s.appliedRev):
		// Pushes can arrive out of order; never step back to an older revision.
		s.opts.logger.Debug("stale snapshot ignored", "kind", s.codec.Kind, "rev", snap.Rev, "min", s.minRev, "applied", s.appliedRev)
		s.mu.Unlock()
		return
	}
	if snap.Rev > s.appliedRev {
		s.appliedRev = snap.Rev
	}

	coll := s.buildLocked(snap.Records)
	first := !s.synced
	carried := 0
	if first {
		// Items added before the backend answered are kept on top of its
		// first snapshot instead of being lost.
		for _, id := range s.unsynced {
			if it, ok := s.coll.Get(id); ok && coll.PushFront(it) {
				carried++
			}
		}
		s.unsynced = nil
	}
	s.coll = coll
	if first {
		s.synced = true
		close(s.syncedCh)
		if carried > 0 {
			s.enqueueLocked()
		}
	}
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
}

func (s *Store[T]) buildLocked(recs []model.Record) *Collection[T] {
	coll := NewCollection[T]()
	invalid, dup := 0, 0
	for _, r := range recs {
		it := s.codec.Normalize(r)
		if !s.codec.Valid(it) {
			invalid++
			continue
		}
		if !coll.PushBack(it) {
			dup++
		}
	}
	if invalid > 0 || dup > 0 {
		s.opts.logger.Warn("dropped records from snapshot", "kind", s.codec.Kind, "invalid", invalid, "duplicate", dup)
	}
	return coll
}

// commitLocked queues a write of the current collection and returns the
// change notification to run once mu is released.
func (s *Store[T]) commitLocked() func() {
	s.enqueueLocked()
	return s.changedLocked()
}

func (s *Store[T]) changedLocked() func() {
	s.version++
	v := s.version
	items := s.itemsLocked()
	fns := make([]func([]T), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		if v <= s.notified {
			return
		}
		s.notified = v
		for _, fn := range fns {
			fn(items)
		}
	}
}

func (s *Store[T]) itemsLocked() []T {
	items := s.coll.Items()
	for i := range items {
		items[i] = s.codec.Clone(items[i])
	}
	return items
}

// nextIDLocked returns a millisecond-timestamp id, bumped past the last one
// handed out and past any id already in the collection.
func (s *Store[T]) nextIDLocked() string {
	ms := s.opts.now().UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	for {
		id := strconv.FormatInt(ms, 10)
		if _, taken := s.coll.Get(id); !taken {
			s.lastID = ms
			return id
		}
		ms++
	}
}

// trackAddLocked remembers ids created before the first snapshot arrived.
func (s *Store[T]) trackAddLocked(id string) {
	if !s.synced {
		s.unsynced = append(s.unsynced, id)
	}
}
