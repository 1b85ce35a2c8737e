package backend

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/Makepad-fr/tada/internal/model"
)

// JSON-backed storage. One human-readable file per kind inside dir; the
// task file keeps the name earlier tada releases used.
var localFiles = map[model.Kind]string{
	model.KindTasks: "todos.json",
	model.KindNotes: "notes.json",
}

// Local persists collections as JSON files on the local disk.
type Local struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	seen map[model.Kind][sha256.Size]byte // last content read or written, per kind
}

// NewLocal returns a backend storing its files in dir. A nil logger uses slog.Default.
func NewLocal(dir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{dir: dir, logger: logger, seen: map[model.Kind][sha256.Size]byte{}}
}

func (l *Local) Name() string { return "local" }

// Path returns the file backing kind.
func (l *Local) Path(kind model.Kind) string {
	name, ok := localFiles[kind]
	if !ok {
		name = string(kind) + ".json"
	}
	return filepath.Join(l.dir, name)
}

func (l *Local) Load(_ context.Context, kind model.Kind) (Snapshot, error) {
	recs, _, err := l.read(kind)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Records: recs}, nil
}

func (l *Local) read(kind model.Kind) ([]model.Record, [sha256.Size]byte, error) {
	b, err := os.ReadFile(l.Path(kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.Record{}, sha256.Sum256(nil), nil
		}
		return nil, [sha256.Size]byte{}, l.fail("load", fmt.Errorf("read file: %w", err))
	}
	recs, err := model.DecodeRecords(b)
	if err != nil {
		return nil, [sha256.Size]byte{}, l.fail("load", err)
	}
	return recs, sha256.Sum256(b), nil
}

// Persist writes the collection atomically: a temp file in the same
// directory renamed over the target.
func (l *Local) Persist(_ context.Context, kind model.Kind, recs []model.Record) (int64, error) {
	b, err := model.EncodeRecords(recs)
	if err != nil {
		return 0, l.fail("persist", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return 0, l.fail("persist", fmt.Errorf("mkdir: %w", err))
	}
	p := l.Path(kind)
	tmp, err := os.CreateTemp(l.dir, "."+filepath.Base(p)+".*")
	if err != nil {
		return 0, l.fail("persist", fmt.Errorf("create temp: %w", err))
	}
	_, werr := tmp.Write(b)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return 0, l.fail("persist", fmt.Errorf("write file: %w", werr))
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, l.fail("persist", fmt.Errorf("rename: %w", err))
	}
	l.seen[kind] = sha256.Sum256(b)
	return 0, nil
}

// Subscribe delivers the file's current content, then watches the data
// directory and pushes a new snapshot whenever another process rewrites
// the file. Our own writes are recognised by content and not echoed.
func (l *Local) Subscribe(ctx context.Context, kind model.Kind, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if onError == nil {
		onError = func(error) {}
	}
	recs, _, err := l.readSeen(kind)
	if err != nil {
		return nil, err
	}
	onSnapshot(Snapshot{Records: recs})

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return nil, l.fail("watch", fmt.Errorf("mkdir: %w", err))
	}
	w, err := newFileWatcher(l.dir, filepath.Base(l.Path(kind)))
	if err != nil {
		return nil, l.fail("watch", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.Events():
				if !ok {
					return
				}
				l.reload(kind, onSnapshot, onError)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				onError(l.fail("watch", err))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := w.Stop(); err != nil {
				l.logger.Warn("stop watcher", "err", err)
			}
			wg.Wait()
		})
	}, nil
}

func (l *Local) reload(kind model.Kind, onSnapshot func(Snapshot), onError func(error)) {
	recs, changed, err := l.readSeen(kind)
	if err != nil {
		onError(err)
		return
	}
	if !changed {
		return
	}
	l.logger.Debug("local file changed", "kind", kind, "items", len(recs))
	onSnapshot(Snapshot{Records: recs})
}

// readSeen reads the file and records its content as seen, reporting
// whether it differs from what was seen before. The read happens under l.mu
// so a concurrent Persist cannot slip between reading and recording.
func (l *Local) readSeen(kind model.Kind) ([]model.Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, sum, err := l.read(kind)
	if err != nil {
		return nil, false, err
	}
	changed := l.seen[kind] != sum
	l.seen[kind] = sum
	return recs, changed, nil
}

func (l *Local) fail(op string, err error) error {
	return &PersistenceError{Backend: l.Name(), Op: op, Kind: classifyFS(err), Err: err}
}

func classifyFS(err error) ErrorKind {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return QuotaExceeded
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return PermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return Unavailable
	default:
		return Other
	}
}

// ------- fsnotify plumbing -------

// fileWatcher reports changes to a single file name inside a directory.
// Watching the directory rather than the file survives atomic renames.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	name    string
	events  chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
}

func newFileWatcher(dir, name string) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw := &fileWatcher{
		watcher: watcher,
		name:    name,
		events:  make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.processEvents()
	return fw, nil
}

func (fw *fileWatcher) Events() <-chan struct{} { return fw.events }
func (fw *fileWatcher) Errors() <-chan error    { return fw.errors }

// Stop closes the watcher and blocks until the event loop has exited.
func (fw *fileWatcher) Stop() error {
	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	close(fw.events)
	close(fw.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (fw *fileWatcher) processEvents() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.done:
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != fw.name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Coalesce bursts: one pending notification is enough since
			// the receiver rereads the whole file.
			select {
			case fw.events <- struct{}{}:
			default:
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}
