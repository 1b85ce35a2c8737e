package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store"
	"github.com/Makepad-fr/tada/internal/ui"
	"github.com/Makepad-fr/tada/internal/view"
)

func newNoteCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "note",
		Aliases: []string{"notes"},
		Short:   "Keep notes next to your tasks",
		Args:    positionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listNotes(cmd, app)
		},
	}
	cmd.AddCommand(newNoteAddCommand(app))
	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List notes, most recently saved first",
		Args:  positionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listNotes(cmd, app)
		},
	})
	cmd.AddCommand(newNoteEditCommand(app))
	cmd.AddCommand(newNoteRemoveCommand(app))
	return cmd
}

func newNoteAddCommand(app *App) *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:     "add [title...]",
		Short:   "Add a note",
		Example: "  tada note add Groceries --content \"milk, eggs\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			o, err := app.openNotes(ctx)
			if err != nil {
				return err
			}
			if _, err := o.store.Add(strings.Join(args, " "), content); err != nil {
				o.store.Unbind()
				return usagef("note add: a note needs a title or some content")
			}
			if err := o.commit(ctx); err != nil {
				return err
			}
			ui.OK(cmd.OutOrStdout(), "note added")
			return nil
		},
	}
	cmd.Flags().StringVarP(&content, "content", "c", "", "note body")
	return cmd
}

func listNotes(cmd *cobra.Command, app *App) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	o, err := app.openNotes(ctx)
	if err != nil {
		return err
	}
	defer o.store.Unbind()

	w := cmd.OutOrStdout()
	notes := view.ProjectNotes(o.store.Items())
	if len(notes) == 0 {
		ui.Hint(w, "no notes yet, add one with `tada note add`")
		return nil
	}
	for i, n := range notes {
		fmt.Fprintln(w, ui.NoteLine(i+1, n))
	}
	return nil
}

// mutateNote resolves a 1-based index in the listed order and applies fn.
func (a *App) mutateNote(cmd *cobra.Command, arg string, fn func(*store.NoteStore, model.Note) (string, error)) error {
	n, err := parseIndex(arg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	o, err := a.openNotes(ctx)
	if err != nil {
		return err
	}
	notes := view.ProjectNotes(o.store.Items())
	if n > len(notes) {
		o.store.Unbind()
		return usagef("index out of range: have %d, got %d (run `tada note ls` to see valid indexes)", len(notes), n)
	}
	msg, err := fn(o.store, notes[n-1])
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

func newNoteEditCommand(app *App) *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "edit <index>",
		Short: "Change the title or content of a note",
		Args:  positionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch store.NotePatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("content") {
				patch.Content = &content
			}
			if patch == (store.NotePatch{}) {
				return usagef("note edit: nothing to change (use --title or --content)")
			}
			return app.mutateNote(cmd, args[0], func(s *store.NoteStore, n model.Note) (string, error) {
				if err := s.Save(n.ID, patch); err != nil {
					if errors.Is(err, store.ErrValidation) {
						return "", usagef("note edit: a note needs a title or some content")
					}
					return "", err
				}
				return "note saved", nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "new content")
	return cmd
}

func newNoteRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <index>",
		Short: "Remove a note",
		Args:  positionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutateNote(cmd, args[0], func(s *store.NoteStore, n model.Note) (string, error) {
				s.Remove(n.ID)
				return "note removed", nil
			})
		},
	}
}
