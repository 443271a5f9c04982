package querycache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

type todo struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type recHooks struct {
	NopHooks

	mu            sync.Mutex
	discarded     []string
	failed        []string
	selfHeals     []string
	rollbacks     []string
	invalidations []string
	collected     int
}

func (h *recHooks) FetchDiscarded(key, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discarded = append(h.discarded, key+" "+reason)
}

func (h *recHooks) FetchFailed(key string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, key)
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selfHeals = append(h.selfHeals, reason)
}

func (h *recHooks) MutationRolledBack(key string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollbacks = append(h.rollbacks, key)
}

func (h *recHooks) Invalidated(prefix string, _, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidations = append(h.invalidations, prefix)
}

func (h *recHooks) EntriesCollected(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collected += n
}

func (h *recHooks) list(f func(*recHooks) []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]string(nil), f(h)...)
	sort.Strings(out)
	return out
}

func newTestClient(t *testing.T, opts Options) (*Client, *recHooks) {
	t.Helper()
	h := &recHooks{}
	if opts.Hooks == nil {
		opts.Hooks = h
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = time.Hour
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, h
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// gatedFetch returns a fetch func that blocks until release is closed and
// counts its calls. It ignores ctx, like a fetch that cannot be aborted.
func gatedFetch[V any](v V, started chan<- struct{}, release <-chan struct{}, calls *counter) FetchFunc[V] {
	return func(context.Context) (V, error) {
		calls.inc()
		if started != nil {
			started <- struct{}{}
		}
		<-release
		return v, nil
	}
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
