// Package persist saves and loads the serialized {key: entry} cache map.
// Only entries are persisted; refresh metadata, in-flight fetches and
// subscriptions hold callbacks and are rebuilt per process.
package persist

import (
	"context"
	"errors"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// ErrSnapshotRejected is returned by Save when the backend refused to keep
// the snapshot.
var ErrSnapshotRejected = errors.New("snapshot rejected by store")

// Adapter is a durable home for a cache snapshot.
type Adapter interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, snapshot []byte) error
}
