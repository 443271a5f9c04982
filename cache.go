package querycache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/querycache/codec"
)

// Cache is a typed view over a Client. Values are encoded with the cache's
// codec before they reach the provider and decoded on every read, so callers
// never share memory with the store. Several Caches may wrap one Client; keys
// are shared, so give each value type its own key space.
type Cache[V any] struct {
	c     *Client
	codec codec.Codec[V]
}

func (q *Cache[V]) Client() *Client { return q.c }

// Entry returns a decoded snapshot of k. ok is false when k is unknown.
func (q *Cache[V]) Entry(ctx context.Context, k Key) (Entry[V], bool, error) {
	raw, ok, err := q.c.read(ctx, k)
	out := Entry[V]{
		Key:         raw.Key,
		Status:      raw.Status,
		Err:         raw.Err,
		UpdatedAt:   raw.UpdatedAt,
		Subscribers: raw.Subscribers,
		Stale:       raw.Stale,
	}
	if err != nil || !ok || !raw.HasData {
		return out, ok, err
	}
	v, err := q.codec.Decode(raw.Data)
	if err != nil {
		return out, true, fmt.Errorf("querycache: decode %s: %w", k, err)
	}
	out.Data = v
	out.HasData = true
	return out, true, nil
}

// Get returns the cached value of k, if any.
func (q *Cache[V]) Get(ctx context.Context, k Key) (V, bool, error) {
	e, _, err := q.Entry(ctx, k)
	return e.Data, e.HasData, err
}

// Set writes v as the data of k. A fetch in flight for k is discarded.
func (q *Cache[V]) Set(ctx context.Context, k Key, v V) error {
	b, err := q.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("querycache: encode %s: %w", k, err)
	}
	return q.c.set(ctx, k, b)
}

// Update atomically replaces the data of k with fn(prev). fn runs with the
// store locked and must not call back into the Client.
func (q *Cache[V]) Update(ctx context.Context, k Key, fn func(prev V, ok bool) (V, error)) error {
	_, _, err := q.swap(ctx, k, fn)
	return err
}

// swap is Update returning the previous encoded payload.
func (q *Cache[V]) swap(ctx context.Context, k Key, fn func(prev V, ok bool) (V, error)) ([]byte, bool, error) {
	return q.c.swap(ctx, k, func(raw []byte, had bool) ([]byte, bool, error) {
		var prev V
		if had {
			v, err := q.codec.Decode(raw)
			if err != nil {
				return nil, false, fmt.Errorf("querycache: decode %s: %w", k, err)
			}
			prev = v
		}
		next, err := fn(prev, had)
		if err != nil {
			return nil, false, err
		}
		b, err := q.codec.Encode(next)
		if err != nil {
			return nil, false, fmt.Errorf("querycache: encode %s: %w", k, err)
		}
		return b, true, nil
	})
}
