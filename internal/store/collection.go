package store

import "github.com/Makepad-fr/tada/internal/model"

// Collection is an insertion-ordered set of items keyed by id. Index 0 is
// the logical head, where new items go.
type Collection[T model.Item] struct {
	order []string
	items map[string]T
}

func NewCollection[T model.Item]() *Collection[T] {
	return &Collection[T]{items: map[string]T{}}
}

func (c *Collection[T]) Len() int { return len(c.order) }

func (c *Collection[T]) Get(id string) (T, bool) {
	it, ok := c.items[id]
	return it, ok
}

// PushFront inserts it at the head. It reports false if the id is taken.
func (c *Collection[T]) PushFront(it T) bool {
	id := it.ItemID()
	if _, ok := c.items[id]; ok {
		return false
	}
	c.items[id] = it
	c.order = append([]string{id}, c.order...)
	return true
}

// PushBack appends it. It reports false if the id is taken.
func (c *Collection[T]) PushBack(it T) bool {
	id := it.ItemID()
	if _, ok := c.items[id]; ok {
		return false
	}
	c.items[id] = it
	c.order = append(c.order, id)
	return true
}

// Put replaces an existing item in place.
func (c *Collection[T]) Put(it T) bool {
	id := it.ItemID()
	if _, ok := c.items[id]; !ok {
		return false
	}
	c.items[id] = it
	return true
}

func (c *Collection[T]) Delete(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// DeleteFunc removes every item for which del returns true and returns
// the removed ids in collection order.
func (c *Collection[T]) DeleteFunc(del func(T) bool) []string {
	var removed []string
	kept := c.order[:0:0]
	for _, id := range c.order {
		if del(c.items[id]) {
			removed = append(removed, id)
			delete(c.items, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return removed
}

// Items returns the items in collection order.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}
