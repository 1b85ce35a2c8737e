package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/view"
)

// Header is the title line with live counts.
func Header(title string, c view.Counts) string {
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		current.Title.Render(title),
		current.Success.Render(current.SymDone), c.Completed,
		current.Pending.Render(current.SymPending), c.Active,
		current.Accent.Render("Total"), c.Total,
	)
}

// TaskLine renders one task for a terminal. A task whose completion is
// pending already shows as checked.
func TaskLine(t model.Task, completing bool, today model.Date) string {
	box := current.Muted.Render(current.BoxUnchecked)
	text := t.Text
	if t.Completed || completing {
		box = current.Success.Render(current.BoxChecked)
		text = current.Done.Render(text)
	}
	parts := []string{box, current.priority(t.Priority).Render(priorityMark(t.Priority)), text}
	if !t.DueDate.IsZero() {
		due := "due " + t.DueDate.String()
		if !t.Completed && t.DueDate.Before(today) {
			parts = append(parts, current.Error.Render(due))
		} else {
			parts = append(parts, current.Muted.Render(due))
		}
	}
	return strings.Join(parts, " ")
}

// PlainTaskLine renders one numbered task without styling, for pipes and
// scripts.
func PlainTaskLine(n int, t model.Task) string {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	line := fmt.Sprintf("%d. %s %s (%s", n, box, t.Text, t.Priority)
	if !t.DueDate.IsZero() {
		line += ", due " + t.DueDate.String()
	}
	return line + ")"
}

// NoteLine renders a note title with the time it was last saved.
func NoteLine(n int, note model.Note) string {
	title := note.Title
	if title == "" {
		title = firstLine(note.Content)
	}
	line := fmt.Sprintf("%d. %s", n, title)
	if !note.UpdatedAt.IsZero() {
		line += " " + current.Muted.Render(note.UpdatedAt.Local().Format(time.DateTime))
	}
	return line
}

// EmptyHint is shown in place of an empty list.
func EmptyHint(f view.Filter) string {
	switch f {
	case view.FilterActive:
		return current.Muted.Render("nothing left to do")
	case view.FilterCompleted:
		return current.Muted.Render("nothing completed yet")
	}
	return current.Muted.Render("no tasks yet, add one with `tada add`")
}

func priorityMark(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "!!!"
	case model.PriorityLow:
		return "!  "
	default:
		return "!! "
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 60
	if r := []rune(s); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
