// Package view derives the ordered, filtered lists the presentation layer
// renders. Projections never touch the store; they work on the copies it
// hands to listeners.
package view

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Makepad-fr/tada/internal/model"
)

// Filter selects which tasks a view shows.
type Filter string

const (
	FilterAll       Filter = "all"       // every task
	FilterActive    Filter = "active"    // not completed
	FilterCompleted Filter = "completed" // completed only
)

// Filters lists the filters in tab order.
var Filters = []Filter{FilterAll, FilterActive, FilterCompleted}

func (f Filter) match(t model.Task) bool {
	switch f {
	case FilterActive:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	default:
		return true
	}
}

// Sort orders a view. Every sort puts completed tasks after incomplete ones.
type Sort string

const (
	SortPriority Sort = "priority" // high, medium, low
	SortCreated  Sort = "created"  // newest first
	SortDue      Sort = "due"      // earliest due date first, undated last
)

var Sorts = []Sort{SortPriority, SortCreated, SortDue}

// ParseFilter accepts a filter name; empty means all.
func ParseFilter(s string) (Filter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FilterAll, nil
	}
	for _, f := range Filters {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown filter %q (want all, active or completed)", s)
}

// ParseSort accepts a sort name; empty means priority.
func ParseSort(s string) (Sort, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortPriority, nil
	}
	for _, o := range Sorts {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown sort %q (want priority, created or due)", s)
}

// Counts summarises the whole collection, independent of the filter.
type Counts struct {
	Total     int
	Active    int
	Completed int

	// ShowClearCompleted is set when the completed tab is open and has
	// something to clear.
	ShowClearCompleted bool
}

// View is a projected task list.
type View struct {
	Filter Filter
	Sort   Sort
	Items  []model.Task
	Counts Counts
}

// Project filters and orders tasks. Ties keep collection order, so equal
// tasks never jump around between renders.
func Project(tasks []model.Task, f Filter, s Sort) View {
	v := View{Filter: f, Sort: s}
	for _, t := range tasks {
		if t.Completed {
			v.Counts.Completed++
		} else {
			v.Counts.Active++
		}
		if f.match(t) {
			v.Items = append(v.Items, t)
		}
	}
	v.Counts.Total = len(tasks)
	v.Counts.ShowClearCompleted = f == FilterCompleted && v.Counts.Completed > 0

	slices.SortStableFunc(v.Items, compareFor(s))
	return v
}

func compareFor(s Sort) func(a, b model.Task) int {
	return func(a, b model.Task) int {
		if a.Completed != b.Completed {
			if a.Completed {
				return 1
			}
			return -1
		}
		switch s {
		case SortCreated:
			return b.CreatedAt.Compare(a.CreatedAt)
		case SortDue:
			return compareDue(a.DueDate, b.DueDate)
		default:
			return a.Priority.Rank() - b.Priority.Rank()
		}
	}
}

func compareDue(a, b model.Date) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return 1
	case b.IsZero():
		return -1
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}

// ProjectNotes orders notes by last update, most recent first.
func ProjectNotes(notes []model.Note) []model.Note {
	out := slices.Clone(notes)
	slices.SortStableFunc(out, func(a, b model.Note) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

// Index resolves a 1-based position in v to a task.
func (v View) Index(n int) (model.Task, bool) {
	if n < 1 || n > len(v.Items) {
		return model.Task{}, false
	}
	return v.Items[n-1], true
}
