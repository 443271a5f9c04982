// Package bus delivers entry-change events to subscribers.
//
// Delivery never re-enters: an event published while a drain is running
// (from another goroutine or from inside a callback) is queued and delivered
// by the running drain after the current callback iteration finishes. The
// publisher that starts a drain delivers synchronously before returning.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/querycache/key"
)

type Kind uint8

const (
	Updated Kind = iota + 1
	FetchStarted
	FetchFailed
	FetchCanceled
	Invalidated
	Removed
)

func (k Kind) String() string {
	switch k {
	case Updated:
		return "updated"
	case FetchStarted:
		return "fetch_started"
	case FetchFailed:
		return "fetch_failed"
	case FetchCanceled:
		return "fetch_canceled"
	case Invalidated:
		return "invalidated"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

type Scope uint8

const (
	// Exact reaches subscribers of Key and subtree subscribers of its ancestors.
	Exact Scope = iota
	// Subtree also reaches every subscriber at or below Key.
	Subtree
)

type Event struct {
	Key   key.Key
	Kind  Kind
	Scope Scope
}

type sub struct {
	key     key.Key
	subtree bool
	fn      func(Event)
	active  atomic.Bool
}

func (s *sub) matches(ev Event) bool {
	if ev.Key.Equal(s.key) {
		return true
	}
	if s.subtree && ev.Key.HasPrefix(s.key) {
		return true
	}
	return ev.Scope == Subtree && s.key.HasPrefix(ev.Key)
}

type Bus struct {
	mu       sync.Mutex
	subs     []*sub
	queue    []Event
	draining bool
}

func New() *Bus { return &Bus{} }

// Subscribe registers fn for events on k. With subtree=true fn also receives
// events for every key below k. The returned func unsubscribes; calling it
// more than once is a no-op.
func (b *Bus) Subscribe(k key.Key, subtree bool, fn func(Event)) (unsubscribe func()) {
	s := &sub{key: k, subtree: subtree, fn: fn}
	s.active.Store(true)

	b.mu.Lock()
	subs := make([]*sub, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, s)
	b.mu.Unlock()

	return func() {
		if !s.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		next := make([]*sub, 0, len(b.subs))
		for _, x := range b.subs {
			if x != s {
				next = append(next, x)
			}
		}
		b.subs = next
		b.mu.Unlock()
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) Publish(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, evs...)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()
	b.drain()
}

// drain delivers queued events until the queue is empty. A panicking
// callback drops the rest of the queue and re-panics with the bus reusable.
func (b *Bus) drain() {
	clean := false
	defer func() {
		if !clean {
			b.mu.Lock()
			b.queue = nil
			b.draining = false
			b.mu.Unlock()
		}
	}()

	b.mu.Lock()
	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		subs := b.subs // copy-on-write; safe to range without the lock
		b.mu.Unlock()

		for _, s := range subs {
			if s.active.Load() && s.matches(ev) {
				s.fn(ev)
			}
		}

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
	clean = true
}
