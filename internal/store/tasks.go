package store

import (
	"strings"
	"time"

	"github.com/Makepad-fr/tada/internal/model"
)

// TaskFields are the user-supplied fields of a new task.
type TaskFields struct {
	Text     string
	Priority model.Priority // empty means medium
	DueDate  model.Date
}

// TaskPatch names the fields Update replaces; nil fields are left alone.
// A zero DueDate clears the due date.
type TaskPatch struct {
	Text      *string
	Completed *bool
	Priority  *model.Priority
	DueDate   *model.Date
}

// TaskStore is the store for tasks.
type TaskStore struct {
	*Store[model.Task]

	// deferred completions, guarded by Store.mu
	deferred map[string]deferredCompletion
	nextTok  uint64
}

type deferredCompletion struct {
	token uint64
	timer Timer
}

func NewTaskStore(opts ...Option) *TaskStore {
	ts := &TaskStore{
		Store:    newStore(model.TaskCodec, opts),
		deferred: map[string]deferredCompletion{},
	}
	ts.onReset = ts.cancelAllDeferredLocked
	return ts
}

// Add creates a task at the head of the collection. Text is trimmed; empty
// text is rejected with ErrValidation and nothing changes.
func (ts *TaskStore) Add(f TaskFields) (model.Task, error) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return model.Task{}, ErrValidation
	}
	prio, _ := model.ParsePriority(string(f.Priority))

	ts.mu.Lock()
	t := model.Task{
		ID:        ts.nextIDLocked(),
		Text:      text,
		Priority:  prio,
		DueDate:   f.DueDate,
		CreatedAt: ts.opts.now().UTC().Truncate(time.Millisecond),
	}
	ts.coll.PushFront(t)
	ts.trackAddLocked(t.ID)
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
	return t.Clone(), nil
}

// Update replaces the fields set in p. id and createdAt never change.
func (ts *TaskStore) Update(id string, p TaskPatch) error {
	if p.Text != nil && strings.TrimSpace(*p.Text) == "" {
		return ErrValidation
	}

	ts.mu.Lock()
	t, ok := ts.coll.Get(id)
	if !ok {
		ts.mu.Unlock()
		return ErrNotFound
	}
	ts.cancelDeferredLocked(id)
	if p.Text != nil {
		t.Text = strings.TrimSpace(*p.Text)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Priority != nil {
		t.Priority, _ = model.ParsePriority(string(*p.Priority))
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	ts.coll.Put(t)
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
	return nil
}

// ToggleCompleted flips the completed flag immediately, dropping any
// deferred completion pending for the task.
func (ts *TaskStore) ToggleCompleted(id string) error {
	ts.mu.Lock()
	t, ok := ts.coll.Get(id)
	if !ok {
		ts.mu.Unlock()
		return ErrNotFound
	}
	ts.cancelDeferredLocked(id)
	t.Completed = !t.Completed
	ts.coll.Put(t)
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
	return nil
}

// CompleteAfter marks the task completed once delay has elapsed, leaving
// room for an exit animation. Until then the task reads as incomplete.
// The pending completion is dropped if the task is updated, toggled or
// removed first, or if it no longer exists or is already completed when
// the timer fires. Calling it again while pending does nothing.
func (ts *TaskStore) CompleteAfter(id string, delay time.Duration) error {
	if delay <= 0 {
		done := true
		return ts.Update(id, TaskPatch{Completed: &done})
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.coll.Get(id)
	if !ok {
		return ErrNotFound
	}
	if t.Completed {
		return nil
	}
	if _, pending := ts.deferred[id]; pending {
		return nil
	}
	ts.nextTok++
	tok := ts.nextTok
	timer := ts.opts.afterFunc(delay, func() { ts.fireDeferred(id, tok) })
	ts.deferred[id] = deferredCompletion{token: tok, timer: timer}
	return nil
}

// Completing reports whether a deferred completion is pending for id.
func (ts *TaskStore) Completing(id string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.deferred[id]
	return ok
}

func (ts *TaskStore) fireDeferred(id string, tok uint64) {
	ts.mu.Lock()
	d, ok := ts.deferred[id]
	if !ok || d.token != tok {
		ts.mu.Unlock()
		return
	}
	delete(ts.deferred, id)
	t, ok := ts.coll.Get(id)
	if !ok || t.Completed {
		ts.mu.Unlock()
		return
	}
	t.Completed = true
	ts.coll.Put(t)
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
}

// CompletePending applies every pending deferred completion now and
// returns how many tasks it completed. Called before shutdown so a quit
// during the exit animation does not lose the completion.
func (ts *TaskStore) CompletePending() int {
	ts.mu.Lock()
	n := 0
	for id, d := range ts.deferred {
		d.timer.Stop()
		delete(ts.deferred, id)
		t, ok := ts.coll.Get(id)
		if !ok || t.Completed {
			continue
		}
		t.Completed = true
		ts.coll.Put(t)
		n++
	}
	if n == 0 {
		ts.mu.Unlock()
		return 0
	}
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
	return n
}

// Remove deletes the task. It reports whether the task existed; removing
// an absent id is a no-op.
func (ts *TaskStore) Remove(id string) bool {
	ts.mu.Lock()
	ts.cancelDeferredLocked(id)
	if !ts.coll.Delete(id) {
		ts.mu.Unlock()
		return false
	}
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
	return true
}

// ClearCompleted removes every completed task and returns how many went.
func (ts *TaskStore) ClearCompleted() int {
	ts.mu.Lock()
	removed := ts.coll.DeleteFunc(func(t model.Task) bool { return t.Completed })
	if len(removed) == 0 {
		ts.mu.Unlock()
		return 0
	}
	for _, id := range removed {
		ts.cancelDeferredLocked(id)
	}
	notify := ts.commitLocked()
	ts.mu.Unlock()
	notify()
	return len(removed)
}

func (ts *TaskStore) cancelDeferredLocked(id string) {
	if d, ok := ts.deferred[id]; ok {
		d.timer.Stop()
		delete(ts.deferred, id)
	}
}

func (ts *TaskStore) cancelAllDeferredLocked() {
	for id := range ts.deferred {
		ts.cancelDeferredLocked(id)
	}
}
