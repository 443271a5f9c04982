// Package genstore keeps a generation counter per entry.
//
// A fetch snapshots the generation of its key when it starts and may only
// apply its result if the generation is unchanged when it completes. Explicit
// writes, cancellations and removals bump the generation, so a slow fetch can
// never overwrite an optimistic value or resurrect a removed entry.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use Local (default) for in-process gens, or Redis to share them.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, storageKeys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes generations not touched within retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
