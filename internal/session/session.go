// Package session decides which backend the stores talk to. Guests write to
// the local data directory; a signed-in user writes to their remote
// document. Every switch rebinds every store from scratch: nothing is
// carried across, and nothing from the guest collection is uploaded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/backend"
)

// State is either Guest (empty Identity) or Authenticated(Identity).
type State struct {
	Identity string
}

func Guest() State { return State{} }

func Authenticated(identity string) State { return State{Identity: identity} }

func (s State) IsGuest() bool { return s.Identity == "" }

func (s State) String() string {
	if s.IsGuest() {
		return "guest"
	}
	return "authenticated(" + s.Identity + ")"
}

// Binding is a store the binder moves between backends. *store.TaskStore
// and *store.NoteStore satisfy it.
type Binding interface {
	Bind(ctx context.Context, b backend.Backend) error
	Unbind()
}

// Backends builds the backend for each state.
type Backends struct {
	Local  func() backend.Backend
	Remote func(identity, token string) (backend.Backend, error)
}

// Binder is the session state machine.
type Binder struct {
	backends Backends
	stores   []Binding
	logger   *slog.Logger

	mu      sync.Mutex // serialises transitions
	bound   bool
	state   State
	token   string
	current backend.Backend

	lmu       sync.Mutex
	listeners map[int]func(State)
	nextL     int
}

func New(backends Backends, logger *slog.Logger, stores ...Binding) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		backends:  backends,
		stores:    stores,
		logger:    logger,
		listeners: map[int]func(State){},
	}
}

// State returns the current session state and whether any backend is bound yet.
func (b *Binder) State() (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.bound
}

// Backend returns the backend currently bound, nil before the first event.
func (b *Binder) Backend() backend.Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// OnChange registers fn to run after every transition, including the
// intermediate Guest step of an account switch.
func (b *Binder) OnChange(fn func(State)) (cancel func()) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	b.nextL++
	id := b.nextL
	b.listeners[id] = fn
	return func() {
		b.lmu.Lock()
		defer b.lmu.Unlock()
		delete(b.listeners, id)
	}
}

// Handle applies one auth event. Signing in as a different identity while
// authenticated goes through Guest first.
func (b *Binder) Handle(ctx context.Context, ev auth.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ev.SignedIn || ev.Identity == "" {
		if b.bound && b.state.IsGuest() {
			return nil
		}
		return b.switchLocked(ctx, Guest(), "")
	}

	if b.bound && b.state.Identity == ev.Identity && b.token == ev.Token {
		return nil
	}
	if b.bound && !b.state.IsGuest() && b.state.Identity != ev.Identity {
		if err := b.switchLocked(ctx, Guest(), ""); err != nil {
			return err
		}
	}
	return b.switchLocked(ctx, Authenticated(ev.Identity), ev.Token)
}

// Run feeds events to Handle until the channel closes or ctx is done, then
// unbinds every store. Transition errors are logged and do not stop it.
func (b *Binder) Run(ctx context.Context, events <-chan auth.Event) error {
	defer b.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.Handle(ctx, ev); err != nil {
				b.logger.Error("session transition failed", "event", ev.String(), "err", err)
			}
		}
	}
}

// Close unbinds every store.
func (b *Binder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.stores {
		s.Unbind()
	}
	b.bound = false
	b.current = nil
}

func (b *Binder) switchLocked(ctx context.Context, to State, token string) error {
	for _, s := range b.stores {
		s.Unbind()
	}

	be, err := b.backendFor(to, token)
	if err != nil {
		b.bound = false
		b.current = nil
		return fmt.Errorf("session %s: %w", to, err)
	}

	var errs []error
	for _, s := range b.stores {
		if err := s.Bind(ctx, be); err != nil {
			errs = append(errs, err)
		}
	}
	b.bound = true
	b.state = to
	b.token = token
	b.current = be
	b.logger.Info("session changed", "state", to.String(), "backend", be.Name())
	b.notify(to)
	return errors.Join(errs...)
}

func (b *Binder) backendFor(s State, token string) (backend.Backend, error) {
	if s.IsGuest() {
		if b.backends.Local == nil {
			return nil, errors.New("no local backend configured")
		}
		return b.backends.Local(), nil
	}
	if b.backends.Remote == nil {
		return nil, errors.New("no remote backend configured")
	}
	return b.backends.Remote(s.Identity, token)
}

func (b *Binder) notify(s State) {
	b.lmu.Lock()
	fns := make([]func(State), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.lmu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
