package querycache

import (
	"context"
	"errors"
	"time"
)

// FetchFunc loads the authoritative value of a key. ctx is canceled when the
// fetch is discarded or the Client closes; it is never tied to the caller
// that happened to start the fetch.
type FetchFunc[V any] func(ctx context.Context) (V, error)

func (q *Cache[V]) rawFetcher(f FetchFunc[V]) rawFetcher {
	if f == nil {
		return nil
	}
	return func(ctx context.Context) ([]byte, error) {
		v, err := f(ctx)
		if err != nil {
			return nil, err
		}
		return q.codec.Encode(v)
	}
}

// Fetch loads k through f and stores the result. Concurrent fetches of the
// same key share one call of f. If the fetch is discarded because a write
// superseded it, Fetch returns the value now cached, or ErrCanceled when
// there is none.
func (q *Cache[V]) Fetch(ctx context.Context, k Key, f FetchFunc[V]) (V, error) {
	var zero V
	if f == nil {
		return zero, errors.New("querycache: nil fetch func")
	}

	select {
	case res := <-q.c.fetch(k, q.rawFetcher(f)):
		if res.Err == nil {
			return q.codec.Decode(res.Val.([]byte))
		}
		if errors.Is(res.Err, ErrCanceled) {
			if v, ok, err := q.Get(ctx, k); err == nil && ok {
				return v, nil
			}
		}
		return zero, res.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type queryOptions struct {
	enabled      bool
	keepPrevious bool
	staleTime    time.Duration
}

type QueryOption func(*queryOptions)

// WithEnabled(false) attaches the observer without fetching. Flipping it on
// later with Observer.SetEnabled starts the fetch.
func WithEnabled(on bool) QueryOption {
	return func(o *queryOptions) { o.enabled = on }
}

// WithKeepPreviousData keeps showing the last key's data after SetKey until
// the new key has data of its own.
func WithKeepPreviousData() QueryOption {
	return func(o *queryOptions) { o.keepPrevious = true }
}

// WithStaleTime overrides Options.StaleTime for this observer.
func WithStaleTime(d time.Duration) QueryOption {
	return func(o *queryOptions) { o.staleTime = d }
}

// Query attaches a live observer to k. If the entry has no data, was
// invalidated, or is older than the stale time, f runs in the background.
// The observer detaches when ctx is done or Close is called. A nil f is
// allowed for keys that are only ever written with Set.
func (q *Cache[V]) Query(ctx context.Context, k Key, f FetchFunc[V], opts ...QueryOption) *Observer[V] {
	qo := queryOptions{enabled: true, staleTime: q.c.staleTime}
	for _, opt := range opts {
		opt(&qo)
	}

	o := &Observer[V]{
		q:            q,
		ctx:          context.WithoutCancel(ctx),
		key:          k,
		fetch:        f,
		raw:          q.rawFetcher(f),
		enabled:      qo.enabled,
		keepPrevious: qo.keepPrevious,
		staleTime:    qo.staleTime,
		changed:      make(chan struct{}),
	}
	o.unsub = o.subscribe(k)
	q.c.attach(k, o.enabled, o.raw, o.staleTime)

	o.mu.Lock()
	o.stop = context.AfterFunc(ctx, o.Close)
	o.mu.Unlock()
	return o
}
