package store

import (
	"strings"
	"time"

	"github.com/Makepad-fr/tada/internal/model"
)

// NotePatch names the fields Save replaces.
type NotePatch struct {
	Title   *string
	Content *string
}

// NoteStore is the store for notes.
type NoteStore struct {
	*Store[model.Note]
}

func NewNoteStore(opts ...Option) *NoteStore {
	return &NoteStore{Store: newStore(model.NoteCodec, opts)}
}

// Add creates a note at the head of the collection. A note needs a title
// or some content; otherwise ErrValidation is returned and nothing changes.
func (ns *NoteStore) Add(title, content string) (model.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" && strings.TrimSpace(content) == "" {
		return model.Note{}, ErrValidation
	}

	ns.mu.Lock()
	n := model.Note{
		ID:        ns.nextIDLocked(),
		Title:     title,
		Content:   content,
		UpdatedAt: ns.stampLocked(),
	}
	ns.coll.PushFront(n)
	ns.trackAddLocked(n.ID)
	notify := ns.commitLocked()
	ns.mu.Unlock()
	notify()
	return n.Clone(), nil
}

// Save replaces the fields set in p and refreshes updatedAt.
func (ns *NoteStore) Save(id string, p NotePatch) error {
	ns.mu.Lock()
	n, ok := ns.coll.Get(id)
	if !ok {
		ns.mu.Unlock()
		return ErrNotFound
	}
	if p.Title != nil {
		n.Title = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if n.Title == "" && strings.TrimSpace(n.Content) == "" {
		ns.mu.Unlock()
		return ErrValidation
	}
	n.UpdatedAt = ns.stampLocked()
	ns.coll.Put(n)
	notify := ns.commitLocked()
	ns.mu.Unlock()
	notify()
	return nil
}

// Remove deletes the note and reports whether it existed.
func (ns *NoteStore) Remove(id string) bool {
	ns.mu.Lock()
	if !ns.coll.Delete(id) {
		ns.mu.Unlock()
		return false
	}
	notify := ns.commitLocked()
	ns.mu.Unlock()
	notify()
	return true
}

func (ns *NoteStore) stampLocked() time.Time {
	return ns.opts.now().UTC().Truncate(time.Millisecond)
}
