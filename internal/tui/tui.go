// Package tui is the interactive task list. It never owns task state: every
// keypress calls the task store, and the list is rebuilt from the store's
// change notifications.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/session"
	"github.com/Makepad-fr/tada/internal/store"
	"github.com/Makepad-fr/tada/internal/ui"
	"github.com/Makepad-fr/tada/internal/view"
)

type Options struct {
	Tasks           *store.TaskStore
	Session         *session.Binder // optional, drives the status line
	Errors          <-chan error    // optional, persistence failures to surface
	CompletionDelay time.Duration
	Filter          view.Filter
	Sort            view.Sort
}

// Messages fed into the program from outside the event loop.
type (
	tasksMsg   []model.Task
	sessionMsg session.State
	errMsg     struct{ err error }
)

// listItem adapts a task to bubbles/list.Item
type listItem struct {
	task       model.Task
	completing bool
}

func (i listItem) Title() string       { return i.task.Text }
func (i listItem) Description() string { return "" }
func (i listItem) FilterValue() string { return i.task.Text }

// Custom delegate to control how items render (single line)
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, _ := item.(listItem)
	line := ui.TaskLine(it.task, it.completing, model.DateOf(time.Now()))
	prefix := "  "
	if index == m.Index() {
		prefix = ui.Current().Selected.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

type mode int

const (
	modeList mode = iota
	modeAdd
	modeEdit
)

var keys = struct {
	add, edit, del, undo, toggle, prio, filter, sort, clear key.Binding
}{
	add:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	edit:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	del:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	undo:   key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo")),
	toggle: key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "done")),
	prio:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "priority")),
	filter: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "filter")),
	sort:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sort")),
	clear:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear completed")),
}

// Model is the Bubble Tea model. Build it with New.
type Model struct {
	tasks *store.TaskStore
	delay time.Duration

	filter view.Filter
	sort   view.Sort
	items  []model.Task
	view   view.View

	list     list.Model
	mode     mode
	ti       textinput.Model // shared text input model (used for add & edit)
	inputErr string
	editID   string

	// Undo support (single-level)
	undo *model.Task

	session string
	status  string
	width   int
	height  int
}

func New(opts Options) Model {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = ui.Current().Title
	l.Styles.HelpStyle = ui.Current().Help
	l.Styles.PaginationStyle = ui.Current().Help
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("task", "tasks")
	extra := func() []key.Binding {
		return []key.Binding{keys.add, keys.edit, keys.toggle, keys.prio, keys.del, keys.undo, keys.filter, keys.sort, keys.clear}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	w, h := termSize()
	m := Model{
		tasks:   opts.Tasks,
		delay:   opts.CompletionDelay,
		filter:  opts.Filter,
		sort:    opts.Sort,
		list:    l,
		ti:      ti,
		session: "guest",
		width:   w,
		height:  h,
	}
	if m.filter == "" {
		m.filter = view.FilterAll
	}
	if m.sort == "" {
		m.sort = view.SortPriority
	}
	if opts.Session != nil {
		if st, ok := opts.Session.State(); ok {
			m.session = st.String()
		}
	}
	m.refresh(opts.Tasks.Items())
	return m
}

// Run starts the program and blocks until the user quits or ctx is done.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))

	r := newRelay(p)
	cancel := opts.Tasks.OnChange(r.offer)
	defer cancel()
	defer r.stop()

	if opts.Session != nil {
		stop := opts.Session.OnChange(func(s session.State) { p.Send(sessionMsg(s)) })
		defer stop()
	}
	if opts.Errors != nil {
		go func() {
			for err := range opts.Errors {
				p.Send(errMsg{err})
			}
		}()
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tasksMsg:
		m.refresh(msg)
		return m, nil
	case sessionMsg:
		m.session = session.State(msg).String()
		m.undo = nil
		return m, nil
	case errMsg:
		m.status = msg.err.Error()
		return m, nil
	}

	if m.mode != modeList {
		return m.updateInput(msg)
	}

	kmsg, isKey := msg.(tea.KeyMsg)
	if !isKey || m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case kmsg.String() == "q" || kmsg.String() == "esc" && m.list.FilterState() == list.Unfiltered:
		return m, tea.Quit
	case key.Matches(kmsg, keys.add):
		m.mode = modeAdd
		m.ti.SetValue("")
		m.ti.Placeholder = "New task..."
		return m, m.ti.Focus()
	case key.Matches(kmsg, keys.edit):
		if it, ok := m.selected(); ok {
			m.mode = modeEdit
			m.editID = it.task.ID
			m.ti.SetValue(it.task.Text)
			m.ti.CursorEnd()
			m.ti.Placeholder = "Edit task..."
			return m, m.ti.Focus()
		}
		return m, nil
	case key.Matches(kmsg, keys.toggle):
		if it, ok := m.selected(); ok {
			m.toggle(it.task)
		}
		return m, nil
	case key.Matches(kmsg, keys.prio):
		if it, ok := m.selected(); ok {
			next := it.task.Priority.Next()
			m.report(m.tasks.Update(it.task.ID, store.TaskPatch{Priority: &next}))
		}
		return m, nil
	case key.Matches(kmsg, keys.del):
		if it, ok := m.selected(); ok {
			t := it.task
			if m.tasks.Remove(t.ID) {
				m.undo = &t
			}
			m.refresh(m.tasks.Items())
		}
		return m, nil
	case key.Matches(kmsg, keys.undo):
		if m.undo != nil {
			m.restore(*m.undo)
			m.undo = nil
		}
		return m, nil
	case key.Matches(kmsg, keys.filter):
		m.filter = nextFilter(m.filter)
		m.refresh(m.items)
		return m, nil
	case key.Matches(kmsg, keys.sort):
		m.sort = nextSort(m.sort)
		m.refresh(m.items)
		return m, nil
	case key.Matches(kmsg, keys.clear):
		if m.view.Counts.ShowClearCompleted {
			n := m.tasks.ClearCompleted()
			m.status = fmt.Sprintf("cleared %d completed", n)
			m.refresh(m.tasks.Items())
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if kmsg, ok := msg.(tea.KeyMsg); ok {
		switch kmsg.String() {
		case "enter":
			text := strings.TrimSpace(m.ti.Value())
			if text == "" {
				m.inputErr = "Task cannot be empty"
				return m, nil
			}
			var err error
			if m.mode == modeAdd {
				_, err = m.tasks.Add(store.TaskFields{Text: text})
			} else {
				err = m.tasks.Update(m.editID, store.TaskPatch{Text: &text})
			}
			m.report(err)
			m.closeInput()
			return m, nil
		case "esc":
			m.closeInput()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m *Model) closeInput() {
	m.mode = modeList
	m.editID = ""
	m.inputErr = ""
	m.ti.SetValue("")
	m.ti.Blur()
}

// toggle completes with a delay while the task would leave the current
// view, so the check mark is visible before it goes.
func (m *Model) toggle(t model.Task) {
	if t.Completed || m.filter == view.FilterCompleted || m.delay <= 0 {
		m.report(m.tasks.ToggleCompleted(t.ID))
		return
	}
	m.report(m.tasks.CompleteAfter(t.ID, m.delay))
}

func (m *Model) restore(t model.Task) {
	added, err := m.tasks.Add(store.TaskFields{Text: t.Text, Priority: t.Priority, DueDate: t.DueDate})
	if err != nil {
		m.report(err)
		return
	}
	if t.Completed {
		m.report(m.tasks.ToggleCompleted(added.ID))
	}
	m.refresh(m.tasks.Items())
}

func (m *Model) report(err error) {
	switch {
	case err == nil:
		m.status = ""
		m.refresh(m.tasks.Items())
	case errors.Is(err, store.ErrNotFound):
		m.status = "task no longer exists"
	default:
		m.status = err.Error()
	}
}

// refresh rebuilds the visible list from items, keeping the cursor on the
// same task when it is still shown.
func (m *Model) refresh(items []model.Task) {
	var keep string
	if it, ok := m.selected(); ok {
		keep = it.task.ID
	}

	m.items = items
	m.view = view.Project(items, m.filter, m.sort)
	li := make([]list.Item, 0, len(m.view.Items))
	sel := -1
	for i, t := range m.view.Items {
		li = append(li, listItem{task: t, completing: m.tasks.Completing(t.ID)})
		if t.ID == keep {
			sel = i
		}
	}
	m.list.SetItems(li)
	if sel >= 0 {
		m.list.Select(sel)
	}
	m.list.Title = ui.Header("Todos", m.view.Counts)
}

func (m Model) selected() (listItem, bool) {
	it, ok := m.list.SelectedItem().(listItem)
	return it, ok
}

func (m Model) View() string {
	w, h := m.width, m.height
	listHeight := h - 6
	if m.mode != modeList {
		listHeight = h - 9
	}
	m.list.SetSize(w-4, listHeight)

	content := m.list.View()
	if m.mode != modeList {
		title := "Add task"
		if m.mode == modeEdit {
			title = "Edit task"
		}
		if m.inputErr != "" {
			title += "  " + ui.Current().Error.Render(m.inputErr)
		}
		content += "\n" + ui.PanelStyle().Render(title+"\n"+m.ti.View())
	}
	content += "\n" + m.statusLine()
	return ui.Panel(content)
}

func (m Model) statusLine() string {
	t := ui.Current()
	tabs := make([]string, 0, len(view.Filters))
	for _, f := range view.Filters {
		if f == m.filter {
			tabs = append(tabs, t.Accent.Render("["+string(f)+"]"))
		} else {
			tabs = append(tabs, t.Muted.Render(string(f)))
		}
	}
	parts := []string{strings.Join(tabs, " "), t.Muted.Render("sort: " + string(m.sort)), t.Muted.Render(m.session)}
	if m.view.Counts.Total > 0 {
		parts = append(parts, ui.ProgressBar(m.view.Counts.Completed, m.view.Counts.Total, 12))
	}
	if m.status != "" {
		parts = append(parts, t.Error.Render(m.status))
	}
	return strings.Join(parts, "  ")
}

func nextFilter(f view.Filter) view.Filter {
	for i, x := range view.Filters {
		if x == f {
			return view.Filters[(i+1)%len(view.Filters)]
		}
	}
	return view.FilterAll
}

func nextSort(s view.Sort) view.Sort {
	for i, x := range view.Sorts {
		if x == s {
			return view.Sorts[(i+1)%len(view.Sorts)]
		}
	}
	return view.SortPriority
}

func termSize() (int, int) {
	w, h := 80, 24
	if tw, th, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		w, h = tw, th
	}
	return w, h
}
