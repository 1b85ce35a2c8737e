package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
)

// fakeBackend keeps collections in memory and lets tests push snapshots
// the way a live backend would.
type fakeBackend struct {
	name string

	mu         sync.Mutex
	data       map[model.Kind][]model.Record
	rev        int64
	subs       map[int]fakeSub
	nextSub    int
	writes     map[model.Kind][][]model.Record
	persistErr error
	gate       chan struct{}
	manual     bool // Subscribe does not deliver the current collection
}

type fakeSub struct {
	kind model.Kind
	fn   func(backend.Snapshot)
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:   name,
		data:   map[model.Kind][]model.Record{},
		subs:   map[int]fakeSub{},
		writes: map[model.Kind][][]model.Record{},
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Load(_ context.Context, kind model.Kind) (backend.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return backend.Snapshot{Records: cloneRecords(f.data[kind]), Rev: f.rev}, nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, kind model.Kind, onSnapshot func(backend.Snapshot), _ func(error)) (backend.Unsubscribe, error) {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = fakeSub{kind: kind, fn: onSnapshot}
	manual := f.manual
	f.mu.Unlock()

	if !manual {
		snap, _ := f.Load(ctx, kind)
		onSnapshot(snap)
	}
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}, nil
}

func (f *fakeBackend) Persist(_ context.Context, kind model.Kind, recs []model.Record) (int64, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return 0, f.persistErr
	}
	f.rev++
	f.data[kind] = cloneRecords(recs)
	f.writes[kind] = append(f.writes[kind], cloneRecords(recs))
	return f.rev, nil
}

// push delivers a snapshot to every live subscriber of kind.
func (f *fakeBackend) push(kind model.Kind, recs []model.Record, rev int64) {
	f.mu.Lock()
	var fns []func(backend.Snapshot)
	for _, s := range f.subs {
		if s.kind == kind {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(backend.Snapshot{Records: cloneRecords(recs), Rev: rev})
	}
}

func (f *fakeBackend) seed(kind model.Kind, recs []model.Record, rev int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[kind] = cloneRecords(recs)
	f.rev = rev
}

func (f *fakeBackend) setPersistErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistErr = err
}

func (f *fakeBackend) stored(kind model.Kind) []model.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRecords(f.data[kind])
}

func (f *fakeBackend) writeCount(kind model.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes[kind])
}

func (f *fakeBackend) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func cloneRecords(recs []model.Record) []model.Record {
	if recs == nil {
		return nil
	}
	out := make([]model.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// fakeClock hands out a fixed time until advanced.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTimers collects AfterFunc callbacks until the test fires them.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (ft *fakeTimers) AfterFunc(_ time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{f: f}
	ft.timers = append(ft.timers, t)
	return t
}

// FireAll runs every timer that was not stopped and returns how many ran.
func (ft *fakeTimers) FireAll() int {
	ft.mu.Lock()
	timers := ft.timers
	ft.timers = nil
	ft.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		run := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

// errorLog records errors handed to the store's error handler.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

type taskFixture struct {
	store  *TaskStore
	clock  *fakeClock
	timers *fakeTimers
	errs   *errorLog
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	f := &taskFixture{clock: newFakeClock(), timers: &fakeTimers{}, errs: &errorLog{}}
	f.store = NewTaskStore(
		WithClock(f.clock.Now),
		WithAfterFunc(f.timers.AfterFunc),
		WithErrorHandler(f.errs.handle),
	)
	t.Cleanup(f.store.Unbind)
	return f
}

// add inserts a task and advances the clock so ids follow wall time.
func (f *taskFixture) add(t *testing.T, text string, prio model.Priority) model.Task {
	t.Helper()
	task, err := f.store.Add(TaskFields{Text: text, Priority: prio})
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	return task
}

func flush(t *testing.T, s interface{ Flush(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func texts(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Text
	}
	return out
}

func taskRecord(id, text string, completed bool) model.Record {
	return model.SerializeTask(model.Task{ID: id, Text: text, Completed: completed, Priority: model.PriorityMedium})
}
