package querycache

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/unkn0wn-root/querycache/internal/bus"
)

// Event is delivered to Subscribe callbacks after the store changed.
// Kind is one of "updated", "fetch_started", "fetch_failed",
// "fetch_canceled", "invalidated" or "removed".
type Event struct {
	Key  Key
	Kind string
}

// Entry returns a snapshot of k with raw payload bytes. ok is false when the
// store has never seen k.
func (c *Client) Entry(ctx context.Context, k Key) (Entry[[]byte], bool, error) {
	e, ok, err := c.read(ctx, k)
	if err != nil || !ok {
		return e, ok, err
	}
	e.Data = bytes.Clone(e.Data)
	return e, true, nil
}

// Entries lists metadata of every entry under prefix, ordered by key. Data is
// never loaded.
func (c *Client) Entries(prefix Key) []Entry[[]byte] {
	c.mu.Lock()
	out := make([]Entry[[]byte], 0, len(c.entries))
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			s := c.snapshotLocked(e, nil, false)
			s.HasData = e.hasData
			out = append(out, s)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Invalidate marks every entry under prefix stale. Entries watched by an
// enabled observer are refetched; a fetch already in flight for them is
// canceled first so the refetch sees post-invalidation data. It returns the
// number of refetches started.
func (c *Client) Invalidate(ctx context.Context, prefix Key) (int, error) {
	t := c.begin()
	defer t.commit()

	var (
		errs               []error
		matched, refetches int
	)
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		matched++
		e.stale = true
		if e.enabled == 0 || e.fetcher == nil {
			continue
		}
		if e.inflight != nil {
			if err := c.supersedeLocked(ctx, t, e, "superseded"); err != nil {
				errs = append(errs, &InvalidateError{Key: e.key, BumpErr: err})
				continue
			}
		}
		c.startFetchLocked(t, e, e.fetcher)
		refetches++
	}

	t.emitTree(prefix, bus.Invalidated)
	c.hooks.Invalidated(prefix.String(), matched, refetches)
	c.log.Debug("invalidated", Fields{"prefix": prefix.String(), "matched": matched, "refetches": refetches})
	return refetches, errors.Join(errs...)
}

// CancelQueries discards every in-flight fetch under prefix. Their contexts
// are canceled and their results, should they still arrive, are dropped.
func (c *Client) CancelQueries(ctx context.Context, prefix Key) error {
	t := c.begin()
	defer t.commit()

	var errs []error
	for _, e := range c.entries {
		if e.inflight == nil || !e.key.HasPrefix(prefix) {
			continue
		}
		if err := c.supersedeLocked(ctx, t, e, "canceled"); err != nil {
			errs = append(errs, &InvalidateError{Key: e.key, BumpErr: err})
		}
	}
	return errors.Join(errs...)
}

// Remove drops every entry under prefix. Entries that still have observers
// are reset to empty instead and refetched if an observer is enabled.
func (c *Client) Remove(ctx context.Context, prefix Key) error {
	t := c.begin()
	defer t.commit()

	var errs []error
	for ks, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		bumpErr := c.supersedeLocked(ctx, t, e, "removed")
		delErr := c.provider.Del(ctx, e.skey)
		if bumpErr != nil || delErr != nil {
			errs = append(errs, &InvalidateError{Key: e.key, BumpErr: bumpErr, DelErr: delErr})
		}

		if e.observers == 0 {
			delete(c.entries, ks)
			continue
		}
		e.hasData = false
		e.version = c.nextSeqLocked()
		e.status = Idle
		e.err = nil
		e.stale = true
		e.touched = c.now()
		if e.enabled > 0 && e.fetcher != nil {
			c.startFetchLocked(t, e, e.fetcher)
		}
	}
	t.emitTree(prefix, bus.Removed)
	return errors.Join(errs...)
}

// Subscribe calls fn after every change to k, or to any key below k when
// subtree is set. Callbacks never run concurrently with each other and never
// re-enter; store calls made from fn are allowed.
func (c *Client) Subscribe(k Key, subtree bool, fn func(Event)) (unsubscribe func()) {
	return c.bus.Subscribe(k, subtree, func(ev bus.Event) {
		fn(Event{Key: ev.Key, Kind: ev.Kind.String()})
	})
}

func (c *Client) cleanupLoop() {
	defer c.closeWg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.collect()
			c.gens.Cleanup(c.genRetention)
		case <-c.stopCh:
			return
		}
	}
}

// collect drops entries nobody observed or fetched for gcTime.
func (c *Client) collect() int {
	t := c.begin()
	defer t.commit()

	ctx := context.Background()
	cutoff := c.now().Add(-c.gcTime)
	n := 0
	for ks, e := range c.entries {
		if e.observers > 0 || e.inflight != nil || e.touched.After(cutoff) {
			continue
		}
		if _, err := c.gens.Bump(ctx, e.skey); err != nil {
			c.hooks.GenBumpError(e.skey, err)
		}
		if e.hasData {
			_ = c.provider.Del(ctx, e.skey)
		}
		delete(c.entries, ks)
		t.emit(e.key, bus.Removed)
		n++
	}
	if n > 0 {
		c.hooks.EntriesCollected(n)
		c.log.Debug("collected unobserved entries", Fields{"count": n})
	}
	return n
}
