package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store"
	"github.com/Makepad-fr/tada/internal/ui"
	"github.com/Makepad-fr/tada/internal/view"
)

// ValidFormats defines the allowed output formats for ls.
var ValidFormats = []string{"text", "json", "yaml"}

// viewOptions are the flags that pick which projected list an index refers to.
type viewOptions struct {
	filter string
	sort   string
}

func (o *viewOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.filter, "filter", "f", "all", "all, active or completed")
	cmd.Flags().StringVarP(&o.sort, "sort", "s", "priority", "priority, created or due")
}

func (o viewOptions) parse() (view.Filter, view.Sort, error) {
	f, err := view.ParseFilter(o.filter)
	if err != nil {
		return "", "", usageError{err}
	}
	s, err := view.ParseSort(o.sort)
	if err != nil {
		return "", "", usageError{err}
	}
	return f, s, nil
}

func (o viewOptions) project(tasks []model.Task) (view.View, error) {
	f, s, err := o.parse()
	if err != nil {
		return view.View{}, err
	}
	return view.Project(tasks, f, s), nil
}

func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, usagef("not a valid index: %s", arg)
	}
	return n, nil
}

func pick(v view.View, n int) (model.Task, error) {
	t, ok := v.Index(n)
	if !ok {
		return model.Task{}, usagef("index out of range: have %d, got %d (run `tada ls` to see valid indexes)", len(v.Items), n)
	}
	return t, nil
}

// parseDue accepts YYYY-MM-DD or natural language such as "tomorrow" or
// "next friday".
func parseDue(s string, now time.Time) (model.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Date{}, nil
	}
	if d, err := model.ParseDate(s); err == nil {
		return d, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil || r == nil {
		return model.Date{}, usagef("cannot read due date %q", s)
	}
	return model.DateOf(r.Time), nil
}

func parsePriority(s string) (model.Priority, error) {
	p, ok := model.ParsePriority(s)
	if !ok {
		return "", usagef("unknown priority %q (want high, medium or low)", s)
	}
	return p, nil
}

func newAddCommand(app *App) *cobra.Command {
	var prio, due string
	cmd := &cobra.Command{
		Use:     "add <text...>",
		Short:   "Add a task (text can be multiple words)",
		Example: "  tada add Buy milk --priority high --due tomorrow",
		Args:    positionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePriority(prio)
			if err != nil {
				return err
			}
			d, err := parseDue(due, time.Now())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			o, err := app.openTasks(ctx)
			if err != nil {
				return err
			}
			t, err := o.store.Add(store.TaskFields{Text: strings.Join(args, " "), Priority: p, DueDate: d})
			if err != nil {
				o.store.Unbind()
				return usagef("add: empty text")
			}
			if err := o.commit(ctx); err != nil {
				return err
			}
			ui.OK(cmd.OutOrStdout(), "added "+t.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&prio, "priority", "p", "medium", "high, medium or low")
	cmd.Flags().StringVarP(&due, "due", "d", "", "due date: YYYY-MM-DD, tomorrow, next friday, ...")
	return cmd
}

// taskOut is the json/yaml shape of a listed task.
type taskOut struct {
	Index     int    `json:"index" yaml:"index"`
	ID        string `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	Completed bool   `json:"completed" yaml:"completed"`
	Priority  string `json:"priority" yaml:"priority"`
	DueDate   string `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	CreatedAt string `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

func newListCommand(app *App) *cobra.Command {
	var vo viewOptions
	var plain bool
	var format string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List tasks (interactive in a terminal)",
		Args:    positionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, s, err := vo.parse()
			if err != nil {
				return err
			}
			switch format {
			case "text", "json", "yaml":
			default:
				return usagef("invalid format %q: must be one of %v", format, ValidFormats)
			}
			if format == "text" && !plain && isTerminal(cmd) {
				return app.runTUI(cmd.Context(), f, s)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			o, err := app.openTasks(ctx)
			if err != nil {
				return err
			}
			defer o.store.Unbind()
			return printTasks(cmd, view.Project(o.store.Items(), f, s), format, plain)
		},
	}
	vo.register(cmd)
	cmd.Flags().BoolVar(&plain, "plain", false, "print a plain numbered list instead of the interactive view")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json|yaml)")
	return cmd
}

func printTasks(cmd *cobra.Command, v view.View, format string, plain bool) error {
	w := cmd.OutOrStdout()
	switch format {
	case "json", "yaml":
		out := make([]taskOut, 0, len(v.Items))
		for i, t := range v.Items {
			to := taskOut{Index: i + 1, ID: t.ID, Text: t.Text, Completed: t.Completed, Priority: string(t.Priority), DueDate: t.DueDate.String()}
			if !t.CreatedAt.IsZero() {
				to.CreatedAt = t.CreatedAt.Format(time.RFC3339)
			}
			out = append(out, to)
		}
		if format == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(out)
	}

	if plain {
		for i, t := range v.Items {
			fmt.Fprintln(w, ui.PlainTaskLine(i+1, t))
		}
		return nil
	}
	lines := []string{ui.Header("Todos", v.Counts), ""}
	today := model.DateOf(time.Now())
	for i, t := range v.Items {
		lines = append(lines, fmt.Sprintf("%2d. %s", i+1, ui.TaskLine(t, false, today)))
	}
	if len(v.Items) == 0 {
		lines = append(lines, ui.EmptyHint(v.Filter))
	}
	fmt.Fprintln(w, ui.Panel(lines...))
	return nil
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// mutateTask resolves a 1-based index and applies fn to the task.
func (a *App) mutateTask(cmd *cobra.Command, vo viewOptions, arg string, fn func(*store.TaskStore, model.Task) (string, error)) error {
	n, err := parseIndex(arg)
	if err != nil {
		return err
	}
	if _, _, err := vo.parse(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	o, err := a.openTasks(ctx)
	if err != nil {
		return err
	}
	v, _ := vo.project(o.store.Items())
	t, err := pick(v, n)
	if err != nil {
		o.store.Unbind()
		return err
	}
	msg, err := fn(o.store, t)
	if err != nil {
		o.store.Unbind()
		return err
	}
	if err := o.commit(ctx); err != nil {
		return err
	}
	ui.OK(cmd.OutOrStdout(), msg)
	return nil
}

func newDoneCommand(app *App) *cobra.Command {
	var vo viewOptions
	cmd := &cobra.Command{
		Use:   "done <index>",
		Short: "Toggle done for the task at a 1-based index",
		Args:  positionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutateTask(cmd, vo, args[0], func(s *store.TaskStore, t model.Task) (string, error) {
				if err := s.ToggleCompleted(t.ID); err != nil {
					return "", err
				}
				if t.Completed {
					return "reopened " + t.Text, nil
				}
				return "completed " + t.Text, nil
			})
		},
	}
	vo.register(cmd)
	return cmd
}

func newEditCommand(app *App) *cobra.Command {
	var vo viewOptions
	var text, prio, due string
	var noDue bool
	cmd := &cobra.Command{
		Use:     "edit <index>",
		Short:   "Change the text, priority or due date of a task",
		Example: "  tada edit 2 --priority low --due 2024-05-01",
		Args:    positionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch store.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("text") {
				if strings.TrimSpace(text) == "" {
					return usagef("edit: empty text")
				}
				patch.Text = &text
			}
			if flags.Changed("priority") {
				p, err := parsePriority(prio)
				if err != nil {
					return err
				}
				patch.Priority = &p
			}
			switch {
			case noDue:
				patch.DueDate = &model.Date{}
			case flags.Changed("due"):
				d, err := parseDue(due, time.Now())
				if err != nil {
					return err
				}
				patch.DueDate = &d
			}
			if patch == (store.TaskPatch{}) {
				return usagef("edit: nothing to change (use --text, --priority, --due or --no-due)")
			}
			return app.mutateTask(cmd, vo, args[0], func(s *store.TaskStore, t model.Task) (string, error) {
				if err := s.Update(t.ID, patch); err != nil {
					return "", err
				}
				return "updated", nil
			})
		},
	}
	vo.register(cmd)
	cmd.Flags().StringVar(&text, "text", "", "new text")
	cmd.Flags().StringVarP(&prio, "priority", "p", "", "high, medium or low")
	cmd.Flags().StringVarP(&due, "due", "d", "", "due date: YYYY-MM-DD, tomorrow, ...")
	cmd.Flags().BoolVar(&noDue, "no-due", false, "clear the due date")
	return cmd
}

func newRemoveCommand(app *App) *cobra.Command {
	var vo viewOptions
	cmd := &cobra.Command{
		Use:     "rm <index>",
		Aliases: []string{"remove"},
		Short:   "Remove the task at a 1-based index",
		Args:    positionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutateTask(cmd, vo, args[0], func(s *store.TaskStore, t model.Task) (string, error) {
				s.Remove(t.ID)
				return "removed " + t.Text, nil
			})
		},
	}
	vo.register(cmd)
	return cmd
}

func newClearCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every completed task",
		Args:  positionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			o, err := app.openTasks(ctx)
			if err != nil {
				return err
			}
			n := o.store.ClearCompleted()
			if err := o.commit(ctx); err != nil {
				return err
			}
			ui.OK(cmd.OutOrStdout(), fmt.Sprintf("cleared %d completed", n))
			return nil
		},
	}
}
