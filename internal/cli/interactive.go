package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/Makepad-fr/tada/internal/session"
	"github.com/Makepad-fr/tada/internal/store"
	"github.com/Makepad-fr/tada/internal/tui"
	"github.com/Makepad-fr/tada/internal/view"
)

// runTUI binds the stores through the session binder, so signing in or out
// from another terminal switches the list live, and runs the interactive view.
func (a *App) runTUI(ctx context.Context, f view.Filter, s view.Sort) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 16)
	report := func(err error) {
		a.logger.Error("persistence failed", "err", err)
		select {
		case errs <- err:
		default:
		}
	}
	tasks := store.NewTaskStore(store.WithLogger(a.logger), store.WithErrorHandler(report))
	notes := store.NewNoteStore(store.WithLogger(a.logger), store.WithErrorHandler(report))
	binder := session.New(a.backends(), a.logger, tasks, notes)

	events, err := a.creds.Watch(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("watch credentials: %w", err)
	}
	// Bind before the first frame so the list opens populated.
	if ev, ok := <-events; ok {
		if err := binder.Handle(ctx, ev); err != nil {
			a.logger.Error("session transition failed", "event", ev.String(), "err", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = binder.Run(ctx, events)
	}()

	err = tui.Run(ctx, tui.Options{
		Tasks:           tasks,
		Session:         binder,
		Errors:          errs,
		CompletionDelay: a.cfg.CompletionDelay,
		Filter:          f,
		Sort:            s,
	})

	// Quitting mid-animation still completes the task.
	if n := tasks.CompletePending(); n > 0 {
		a.logger.Debug("completed pending tasks on exit", "count", n)
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), commandTimeout)
	defer flushCancel()
	_ = tasks.Flush(flushCtx)
	_ = notes.Flush(flushCtx)

	cancel()
	wg.Wait()
	close(errs)
	return err
}
