package model

import (
	"strings"
	"time"
)

// Priority of a task. Unknown values are normalized to PriorityMedium at read time.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority reports whether s names one of the three priorities.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	}
	return PriorityMedium, false
}

// Rank orders priorities high < medium < low. Anything else ranks as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Next cycles low -> medium -> high -> low.
func (p Priority) Next() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityLow
	}
}

// Task is the domain model for a todo entry.
type Task struct {
	ID        string
	Text      string
	Completed bool
	Priority  Priority
	DueDate   Date // zero when absent
	CreatedAt time.Time

	// Extra holds fields this version does not know about; they are
	// written back unchanged.
	Extra Record
}

// ItemID implements the store's item contract.
func (t Task) ItemID() string { return t.ID }

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	t.Extra = t.Extra.Clone()
	return t
}

var taskFields = []string{"id", "text", "completed", "priority", "dueDate", "createdAt"}

// NormalizeTask turns any JSON-shaped record into a Task. It never fails:
// missing fields are defaulted and wrong-typed ones coerced.
//
// Records written by the first tada releases ({"title","done"}) are read as
// text/completed when the newer fields are absent.
func NormalizeTask(r Record) Task {
	t := Task{
		ID:        asString(r["id"]),
		Text:      asString(r["text"]),
		Completed: asBool(r["completed"]),
		DueDate:   asDate(r["dueDate"]),
		CreatedAt: asTime(r["createdAt"]),
		Extra:     extras(r, taskFields...),
	}
	t.Priority, _ = ParsePriority(asString(r["priority"]))

	if _, ok := r["text"]; !ok {
		if title, ok := r["title"]; ok {
			t.Text = asString(title)
			delete(t.Extra, "title")
		}
	}
	if _, ok := r["completed"]; !ok {
		if done, ok := r["done"]; ok {
			t.Completed = asBool(done)
			delete(t.Extra, "done")
		}
	}
	if len(t.Extra) == 0 {
		t.Extra = nil
	}
	return t
}

// SerializeTask is the inverse of NormalizeTask. Absent optional fields are
// omitted rather than written as null.
func SerializeTask(t Task) Record {
	r := t.Extra.Clone()
	if r == nil {
		r = Record{}
	}
	r["id"] = idValue(t.ID)
	r["text"] = t.Text
	r["completed"] = t.Completed
	p, _ := ParsePriority(string(t.Priority))
	r["priority"] = string(p)
	if !t.DueDate.IsZero() {
		r["dueDate"] = t.DueDate.String()
	}
	if !t.CreatedAt.IsZero() {
		r["createdAt"] = formatTime(t.CreatedAt)
	}
	return r
}

// ValidTask reports whether t may live in a collection.
func ValidTask(t Task) bool {
	return t.ID != "" && strings.TrimSpace(t.Text) != ""
}

// TaskCodec binds the task codec to the store.
var TaskCodec = Codec[Task]{
	Kind:      KindTasks,
	Normalize: NormalizeTask,
	Serialize: SerializeTask,
	Valid:     ValidTask,
	Clone:     Task.Clone,
}
