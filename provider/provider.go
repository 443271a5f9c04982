// Package provider defines where entry data bytes live.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key. The keyspace "<namespace>:" is
// owned by querycache; foreign writes under it are treated as corruption and
// deleted on read.
//
// Entry metadata (status, timestamps, observers) never leaves the process;
// a provider only ever holds framed values, so eviction by the provider
// simply turns an entry back into "no data" and triggers a refetch.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<=0 means no expiry). May ignore
	// cost if unsupported. Returns ok=false when the store rejected the
	// write under pressure. A successful Set must be visible to the next Get.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}
