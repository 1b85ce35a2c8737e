package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one authentication-state transition.
type Event struct {
	SignedIn bool
	Identity string
	Token    string
}

func SignedIn(identity, token string) Event {
	return Event{SignedIn: true, Identity: identity, Token: token}
}

func SignedOut() Event { return Event{} }

func (e Event) String() string {
	if !e.SignedIn {
		return "signed-out"
	}
	return "signed-in(" + e.Identity + ")"
}

// Watch emits the current session state, then a new event every time the
// credentials file changes what that state is (login or logout from another
// terminal). The channel is closed when ctx is done.
func (c *Credentials) Watch(ctx context.Context, logger *slog.Logger) (<-chan Event, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(c.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	out := make(chan Event, 1)
	last, err := c.Current(time.Now())
	if err != nil {
		logger.Warn("read credentials", "err", err)
	}
	out <- last

	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != credFileName {
					continue
				}
				cur, err := c.Current(time.Now())
				if err != nil {
					logger.Warn("read credentials", "err", err)
					continue
				}
				if cur == last {
					continue
				}
				last = cur
				select {
				case out <- cur:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("credentials watcher", "err", err)
			}
		}
	}()
	return out, nil
}
