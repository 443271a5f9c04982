package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/querycache/internal/bus"
)

// View is what an observer currently shows.
type View[V any] struct {
	Key       Key
	Data      V
	HasData   bool
	Status    Status
	Err       error
	UpdatedAt time.Time
	Stale     bool

	// IsPreviousData is set when Data belongs to the key the observer
	// watched before SetKey (see WithKeepPreviousData).
	IsPreviousData bool
}

// Observer is a live subscription to one key, created by Cache.Query.
// Its methods are safe for concurrent use.
type Observer[V any] struct {
	q   *Cache[V]
	ctx context.Context

	mu           sync.Mutex
	key          Key
	fetch        FetchFunc[V]
	raw          rawFetcher
	enabled      bool
	keepPrevious bool
	staleTime    time.Duration
	prev         *V
	unsub        func()
	stop         func() bool
	closed       bool

	sigMu   sync.Mutex
	changed chan struct{}
}

func (o *Observer[V]) subscribe(k Key) func() {
	return o.q.c.bus.Subscribe(k, false, func(bus.Event) { o.notify() })
}

func (o *Observer[V]) notify() {
	o.sigMu.Lock()
	close(o.changed)
	o.changed = make(chan struct{})
	o.sigMu.Unlock()
}

// Changed returns a channel closed on the next change to the view. Take the
// channel before reading View to never miss an update.
func (o *Observer[V]) Changed() <-chan struct{} {
	o.sigMu.Lock()
	defer o.sigMu.Unlock()
	return o.changed
}

func (o *Observer[V]) Key() Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// View reads the current state of the observed entry.
func (o *Observer[V]) View() View[V] {
	o.mu.Lock()
	k := o.key
	o.mu.Unlock()

	v := o.read(k)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.key.Equal(k) {
		o.withPrevious(&v)
	}
	return v
}

func (o *Observer[V]) viewLocked() View[V] {
	v := o.read(o.key)
	o.withPrevious(&v)
	return v
}

func (o *Observer[V]) read(k Key) View[V] {
	e, _, err := o.q.Entry(o.ctx, k)
	v := View[V]{
		Key:       k,
		Data:      e.Data,
		HasData:   e.HasData,
		Status:    e.Status,
		Err:       e.Err,
		UpdatedAt: e.UpdatedAt,
		Stale:     e.Stale,
	}
	if err != nil {
		v.Err = err
	}
	return v
}

func (o *Observer[V]) withPrevious(v *View[V]) {
	switch {
	case v.HasData:
		o.prev = nil
	case o.prev != nil:
		v.Data = *o.prev
		v.HasData = true
		v.IsPreviousData = true
	}
}

// Await blocks until cond accepts the view, ctx is done or the observer is
// closed.
func (o *Observer[V]) Await(ctx context.Context, cond func(View[V]) bool) (View[V], error) {
	for {
		ch := o.Changed()
		v := o.View()
		if cond(v) {
			return v, nil
		}
		if o.isClosed() {
			return v, ErrClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// SetKey moves the observer to k. A non-nil f replaces the fetch function.
func (o *Observer[V]) SetKey(k Key, f FetchFunc[V]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	cur := o.viewLocked()
	o.unsub()
	o.q.c.detach(o.key, o.enabled)

	o.prev = nil
	if o.keepPrevious && cur.HasData {
		d := cur.Data
		o.prev = &d
	}
	o.key = k
	if f != nil {
		o.fetch = f
		o.raw = o.q.rawFetcher(f)
	}
	o.unsub = o.subscribe(k)
	o.q.c.attach(k, o.enabled, o.raw, o.staleTime)
	o.notify()
}

// SetEnabled turns fetching on or off. Enabling fetches if the entry needs it.
func (o *Observer[V]) SetEnabled(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.enabled == on {
		return
	}
	o.enabled = on
	o.q.c.enable(o.key, on, o.raw, o.staleTime)
	o.notify()
}

// Refetch fetches the observed key now, regardless of staleness.
func (o *Observer[V]) Refetch(ctx context.Context) (V, error) {
	o.mu.Lock()
	k, f := o.key, o.fetch
	o.mu.Unlock()
	return o.q.Fetch(ctx, k, f)
}

// Close detaches the observer. Safe to call more than once.
func (o *Observer[V]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	if o.stop != nil {
		o.stop()
	}
	o.unsub()
	o.q.c.detach(o.key, o.enabled)
	o.notify()
}

func (o *Observer[V]) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
