package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/session"
	"github.com/Makepad-fr/tada/internal/store"
)

const commandTimeout = 15 * time.Second

// backends builds the backend for each session state from the config.
func (a *App) backends() session.Backends {
	return session.Backends{
		Local: func() backend.Backend { return backend.NewLocal(a.cfg.DataDir, a.logger) },
		Remote: func(identity, token string) (backend.Backend, error) {
			return backend.NewRemote(a.cfg.ServerURL, identity, token, backend.WithLogger(a.logger))
		},
	}
}

// currentBackend picks the backend for the stored credentials.
func (a *App) currentBackend() (backend.Backend, auth.Event, error) {
	ev, err := a.creds.Current(time.Now())
	if err != nil {
		return nil, ev, err
	}
	bs := a.backends()
	if !ev.SignedIn {
		return bs.Local(), ev, nil
	}
	b, err := bs.Remote(ev.Identity, ev.Token)
	return b, ev, err
}

// errorSink collects persistence failures reported while a command runs.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

// oneShot is a store opened for a single command.
type oneShot[S interface {
	Open(context.Context, backend.Backend) error
	Flush(context.Context) error
	Unbind()
}] struct {
	store S
	sink  *errorSink
}

// commit waits for queued writes and reports any that failed.
func (o oneShot[S]) commit(ctx context.Context) error {
	defer o.store.Unbind()
	if err := o.store.Flush(ctx); err != nil {
		return err
	}
	return o.sink.err()
}

func (a *App) openTasks(ctx context.Context) (oneShot[*store.TaskStore], error) {
	sink := &errorSink{}
	s := store.NewTaskStore(store.WithLogger(a.logger), store.WithErrorHandler(sink.handle))
	o := oneShot[*store.TaskStore]{store: s, sink: sink}
	b, _, err := a.currentBackend()
	if err != nil {
		return o, err
	}
	if err := s.Open(ctx, b); err != nil {
		return o, err
	}
	return o, nil
}

func (a *App) openNotes(ctx context.Context) (oneShot[*store.NoteStore], error) {
	sink := &errorSink{}
	s := store.NewNoteStore(store.WithLogger(a.logger), store.WithErrorHandler(sink.handle))
	o := oneShot[*store.NoteStore]{store: s, sink: sink}
	b, _, err := a.currentBackend()
	if err != nil {
		return o, err
	}
	if err := s.Open(ctx, b); err != nil {
		return o, err
	}
	return o, nil
}
