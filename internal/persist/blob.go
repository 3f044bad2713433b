package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/swrcache/internal/blobcache"
)

// snapshotTTL keeps in-memory snapshots around for as long as the process lives.
const snapshotTTL = 365 * 24 * time.Hour

// BlobAdapter stores the snapshot as one blob in a blobcache.Cache. With the
// ristretto-backed cache this survives engine restarts inside one process,
// such as an engine rebuilt on logout.
type BlobAdapter struct {
	cache blobcache.Cache
	key   string
}

// NewBlob returns an adapter storing the snapshot under key in c.
func NewBlob(c blobcache.Cache, key string) *BlobAdapter {
	return &BlobAdapter{cache: c, key: key}
}

// Load returns the stored blob.
func (b *BlobAdapter) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := b.cache.Get(b.key)
	if !ok {
		return nil, ErrNoSnapshot
	}
	return data, nil
}

// Save stores the blob.
func (b *BlobAdapter) Save(ctx context.Context, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.cache.Set(b.key, snapshot, snapshotTTL) {
		return fmt.Errorf("%w: %d bytes", ErrSnapshotRejected, len(snapshot))
	}
	return nil
}
