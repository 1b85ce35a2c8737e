// Package backend defines where item collections are persisted and the two
// places they can live: a local JSON file per kind, or one remote document
// per authenticated identity.
package backend

import (
	"context"

	"github.com/Makepad-fr/tada/internal/model"
)

// Snapshot is a full collection as delivered by a backend. Rev is the
// remote document revision it was read at; local snapshots carry 0.
type Snapshot struct {
	Records []model.Record
	Rev     int64
}

// Unsubscribe stops a subscription. Once it returns, no further snapshots
// are delivered.
type Unsubscribe func()

// Backend is a persistence provider for item collections.
type Backend interface {
	// Name identifies the backend in logs and status lines.
	Name() string

	// Load reads the current collection once.
	Load(ctx context.Context, kind model.Kind) (Snapshot, error)

	// Subscribe delivers the current collection and then every later one.
	// Stream failures are passed to onError; they never end the subscription.
	Subscribe(ctx context.Context, kind model.Kind, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error)

	// Persist replaces the stored collection for kind and returns the
	// revision it was written at. Persisting the same records twice leaves
	// the same stored state.
	Persist(ctx context.Context, kind model.Kind, recs []model.Record) (int64, error)
}
