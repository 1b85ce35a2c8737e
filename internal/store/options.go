package store

import (
	"log/slog"
	"time"
)

// Timer is the part of *time.Timer the store uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type options struct {
	logger         *slog.Logger
	onError        func(error)
	now            func() time.Time
	afterFunc      AfterFunc
	persistTimeout time.Duration
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the logger used for reconciliation diagnostics.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithErrorHandler receives every persistence failure. The default logs it.
func WithErrorHandler(fn func(error)) Option { return func(o *options) { o.onError = fn } }

// WithClock replaces time.Now for ids and timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithAfterFunc replaces time.AfterFunc for deferred completion.
func WithAfterFunc(fn AfterFunc) Option { return func(o *options) { o.afterFunc = fn } }

// WithPersistTimeout bounds a single backend write.
func WithPersistTimeout(d time.Duration) Option { return func(o *options) { o.persistTimeout = d } }

func buildOptions(opts []Option) options {
	o := options{
		logger:         slog.Default(),
		now:            time.Now,
		afterFunc:      func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		persistTimeout: 30 * time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.onError == nil {
		logger := o.logger
		o.onError = func(err error) { logger.Error("persistence failed", "err", err) }
	}
	return o
}
