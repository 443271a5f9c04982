package querycache

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/querycache/internal/bus"
	"github.com/unkn0wn-root/querycache/internal/util"
	"github.com/unkn0wn-root/querycache/internal/wire"
)

type rawFetcher func(ctx context.Context) ([]byte, error)

type inflight struct {
	id     string // singleflight key, unique per fetch
	gen    uint64 // generation observed at start
	prev   Status // restored when the fetch is discarded
	cancel context.CancelFunc
}

// entry is the store-owned record for one key. Data bytes live in the
// provider under skey, framed with version.
type entry struct {
	key       Key
	skey      string
	status    Status
	err       error
	hasData   bool
	version   uint64
	updatedAt time.Time
	stale     bool
	observers int
	enabled   int
	fetcher   rawFetcher
	touched   time.Time
	inflight  *inflight
}

func (e *entry) needsFetch(now time.Time, staleTime time.Duration) bool {
	switch {
	case !e.hasData, e.stale, e.status == Error:
		return true
	case staleTime < 0:
		return false
	default:
		return now.Sub(e.updatedAt) >= staleTime
	}
}

// txn holds c.mu and collects events; commit unlocks, then publishes, so
// subscribers only ever see finished writes.
type txn struct {
	c   *Client
	evs []bus.Event
}

func (c *Client) begin() *txn {
	c.mu.Lock()
	return &txn{c: c}
}

func (t *txn) emit(k Key, kind bus.Kind) {
	t.evs = append(t.evs, bus.Event{Key: k, Kind: kind, Scope: bus.Exact})
}

func (t *txn) emitTree(k Key, kind bus.Kind) {
	t.evs = append(t.evs, bus.Event{Key: k, Kind: kind, Scope: bus.Subtree})
}

func (t *txn) commit() {
	t.c.mu.Unlock()
	t.c.bus.Publish(t.evs...)
}

func (c *Client) ensureLocked(k Key) *entry {
	ks := k.String()
	e := c.entries[ks]
	if e == nil {
		e = &entry{
			key:     k,
			skey:    util.StorageKey(c.ns, ks),
			touched: c.now(),
		}
		c.entries[ks] = e
	}
	return e
}

func (c *Client) nextSeqLocked() uint64 {
	c.seq++
	return c.seq
}

// readLocked returns the entry payload. The slice aliases provider memory
// and must not be modified.
func (c *Client) readLocked(ctx context.Context, t *txn, e *entry) ([]byte, bool, error) {
	if !e.hasData {
		return nil, false, nil
	}
	raw, ok, err := c.provider.Get(ctx, e.skey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.selfHealLocked(ctx, t, e, "evicted", false)
		return nil, false, nil
	}
	ver, payload, err := wire.Decode(raw)
	if err != nil {
		c.selfHealLocked(ctx, t, e, "corrupt", true)
		return nil, false, nil
	}
	if ver != e.version {
		c.selfHealLocked(ctx, t, e, "version_mismatch", true)
		return nil, false, nil
	}
	return payload, true, nil
}

func (c *Client) selfHealLocked(ctx context.Context, t *txn, e *entry, reason string, del bool) {
	if del {
		_ = c.provider.Del(ctx, e.skey)
	}
	e.hasData = false
	e.stale = true
	c.hooks.SelfHeal(e.skey, reason)
	c.log.Debug("entry data dropped on read", Fields{"key": e.key.String(), "reason": reason})
	t.emit(e.key, bus.Updated)
	if e.enabled > 0 && e.fetcher != nil && e.inflight == nil {
		c.startFetchLocked(t, e, e.fetcher)
	}
}

// writeLocked stores payload as the entry's data. Callers making an explicit
// write must call supersedeLocked first.
func (c *Client) writeLocked(ctx context.Context, t *txn, e *entry, payload []byte) error {
	ver := c.nextSeqLocked()
	frame := wire.Encode(ver, payload)
	ok, err := c.provider.Set(ctx, e.skey, frame, c.computeSetCost(e.skey, frame), c.dataTTL)
	if err != nil {
		return err
	}
	if !ok {
		c.hooks.ProviderSetRejected(e.skey)
		c.log.Debug("write rejected by provider (pressure)", Fields{"key": e.key.String()})
		return ErrProviderRejected
	}
	now := c.now()
	e.version = ver
	e.hasData = true
	e.updatedAt = now
	e.touched = now
	e.stale = false
	e.err = nil
	if e.inflight == nil {
		e.status = Success
	}
	t.emit(e.key, bus.Updated)
	return nil
}

// clearLocked drops the entry's data, leaving an empty Idle entry.
func (c *Client) clearLocked(ctx context.Context, t *txn, e *entry) error {
	if err := c.provider.Del(ctx, e.skey); err != nil {
		return err
	}
	now := c.now()
	e.hasData = false
	e.version = c.nextSeqLocked()
	e.updatedAt = now
	e.touched = now
	e.err = nil
	if e.inflight == nil {
		e.status = Idle
	}
	t.emit(e.key, bus.Updated)
	return nil
}

// supersedeLocked makes every fetch for e started before now unable to
// apply: the in-flight fetch (if any) is canceled and the generation bumped.
func (c *Client) supersedeLocked(ctx context.Context, t *txn, e *entry, reason string) error {
	if inf := e.inflight; inf != nil {
		e.inflight = nil
		inf.cancel()
		e.status = inf.prev
		c.hooks.FetchDiscarded(e.key.String(), reason)
		c.log.Debug("in-flight fetch discarded", Fields{"key": e.key.String(), "reason": reason})
		t.emit(e.key, bus.FetchCanceled)
	}
	if _, err := c.gens.Bump(ctx, e.skey); err != nil {
		c.hooks.GenBumpError(e.skey, err)
		c.log.Error("gen bump error", Fields{"key": e.key.String(), "err": err})
		return fmt.Errorf("querycache: bump generation of %s: %w", e.key, err)
	}
	return nil
}

// startFetchLocked runs f for e, or joins the fetch already in flight.
func (c *Client) startFetchLocked(t *txn, e *entry, f rawFetcher) <-chan singleflight.Result {
	if inf := e.inflight; inf != nil {
		// the call stays registered until its fn returns, and fn clears
		// e.inflight before returning, so this always joins
		return c.sf.DoChan(inf.id, func() (any, error) { return nil, ErrCanceled })
	}
	if c.closed {
		return doneResult(nil, ErrClosed)
	}

	g, err := c.gens.Snapshot(c.ctx, e.skey)
	if err != nil {
		c.hooks.GenSnapshotError(e.skey, err)
		c.log.Warn("gen snapshot error", Fields{"key": e.key.String(), "err": err})
		fe := &FetchError{Key: e.key, Err: err}
		e.status = Error
		e.err = fe
		t.emit(e.key, bus.FetchFailed)
		return doneResult(nil, fe)
	}

	fctx, cancel := context.WithCancel(c.ctx)
	inf := &inflight{
		id:     e.key.String() + "#" + strconv.FormatUint(c.nextSeqLocked(), 10),
		gen:    g,
		prev:   e.status,
		cancel: cancel,
	}
	e.inflight = inf
	e.status = Fetching
	e.touched = c.now()
	t.emit(e.key, bus.FetchStarted)

	k := e.key
	return c.sf.DoChan(inf.id, func() (any, error) {
		defer cancel()
		raw, ferr := f(fctx)
		return c.settleFetch(fctx, k, inf, raw, ferr)
	})
}

// settleFetch applies a finished fetch iff it is still the entry's current
// fetch and the generation it observed is still current.
func (c *Client) settleFetch(fctx context.Context, k Key, inf *inflight, raw []byte, ferr error) (any, error) {
	t := c.begin()
	defer t.commit()

	ks := k.String()
	e := c.entries[ks]
	if e == nil || e.inflight != inf {
		return nil, ErrCanceled // already reported when it was superseded
	}
	e.inflight = nil

	discard := func(reason string) (any, error) {
		e.status = inf.prev
		c.hooks.FetchDiscarded(ks, reason)
		c.log.Debug("fetch result discarded", Fields{"key": ks, "reason": reason})
		t.emit(e.key, bus.FetchCanceled)
		return nil, ErrCanceled
	}

	if c.ctx.Err() != nil {
		return discard("closed")
	}
	ctx := context.WithoutCancel(fctx)
	cur, err := c.gens.Snapshot(ctx, e.skey)
	if err != nil {
		c.hooks.GenSnapshotError(e.skey, err)
		return discard("superseded")
	}
	if cur != inf.gen {
		return discard("superseded")
	}

	if ferr == nil {
		ferr = c.writeLocked(ctx, t, e, raw)
	}
	if ferr != nil {
		fe := &FetchError{Key: e.key, Err: ferr}
		e.status = Error
		e.err = fe
		e.touched = c.now()
		c.hooks.FetchFailed(ks, ferr)
		c.log.Debug("fetch failed", Fields{"key": ks, "err": ferr})
		t.emit(e.key, bus.FetchFailed)
		return nil, fe
	}
	return raw, nil
}

func doneResult(v any, err error) <-chan singleflight.Result {
	ch := make(chan singleflight.Result, 1)
	ch <- singleflight.Result{Val: v, Err: err}
	return ch
}

func (c *Client) snapshotLocked(e *entry, payload []byte, ok bool) Entry[[]byte] {
	out := Entry[[]byte]{
		Key:         e.key,
		HasData:     ok,
		Status:      e.status,
		Err:         e.err,
		UpdatedAt:   e.updatedAt,
		Subscribers: e.observers,
		Stale:       e.stale,
	}
	if ok {
		out.Data = payload
	}
	return out
}

// read returns a snapshot whose Data aliases provider memory.
func (c *Client) read(ctx context.Context, k Key) (Entry[[]byte], bool, error) {
	t := c.begin()
	defer t.commit()

	e := c.entries[k.String()]
	if e == nil {
		return Entry[[]byte]{Key: k}, false, nil
	}
	payload, ok, err := c.readLocked(ctx, t, e)
	if err != nil {
		return Entry[[]byte]{Key: k}, false, err
	}
	return c.snapshotLocked(e, payload, ok), true, nil
}

// set is the explicit write: supersede in-flight fetches, then store.
func (c *Client) set(ctx context.Context, k Key, payload []byte) error {
	t := c.begin()
	defer t.commit()

	e := c.ensureLocked(k)
	if err := c.supersedeLocked(ctx, t, e, "superseded"); err != nil {
		return err
	}
	return c.writeLocked(ctx, t, e, payload)
}

// swap atomically replaces the entry's data with fn(prev) and returns a copy
// of the previous payload. When fn reports keep=false the entry is cleared.
func (c *Client) swap(ctx context.Context, k Key, fn func(prev []byte, had bool) ([]byte, bool, error)) ([]byte, bool, error) {
	t := c.begin()
	defer t.commit()

	e := c.ensureLocked(k)
	prev, had, err := c.readLocked(ctx, t, e)
	if err != nil {
		return nil, false, err
	}
	prev = bytes.Clone(prev)

	next, keep, err := fn(prev, had)
	if err != nil {
		return prev, had, err
	}
	if err := c.supersedeLocked(ctx, t, e, "superseded"); err != nil {
		return prev, had, err
	}
	if !keep {
		return prev, had, c.clearLocked(ctx, t, e)
	}
	return prev, had, c.writeLocked(ctx, t, e, next)
}

// restore puts back a payload captured by swap.
func (c *Client) restore(ctx context.Context, k Key, prev []byte, had bool) error {
	_, _, err := c.swap(ctx, k, func([]byte, bool) ([]byte, bool, error) {
		return prev, had, nil
	})
	return err
}

func (c *Client) fetch(k Key, f rawFetcher) <-chan singleflight.Result {
	t := c.begin()
	defer t.commit()
	return c.startFetchLocked(t, c.ensureLocked(k), f)
}

// attach registers an observer on k and fetches if the entry needs it.
func (c *Client) attach(k Key, enabled bool, f rawFetcher, staleTime time.Duration) {
	t := c.begin()
	defer t.commit()

	e := c.ensureLocked(k)
	e.observers++
	e.touched = c.now()
	if enabled {
		e.enabled++
		if f != nil {
			e.fetcher = f
		}
		c.maybeFetchLocked(t, e, staleTime)
	}
}

func (c *Client) detach(k Key, enabled bool) {
	t := c.begin()
	defer t.commit()

	e := c.entries[k.String()]
	if e == nil {
		return
	}
	e.observers--
	if enabled {
		e.enabled--
	}
	if e.enabled == 0 {
		e.fetcher = nil
	}
	e.touched = c.now()
}

// enable flips one observer of k between disabled and enabled.
func (c *Client) enable(k Key, on bool, f rawFetcher, staleTime time.Duration) {
	t := c.begin()
	defer t.commit()

	e := c.ensureLocked(k)
	if !on {
		e.enabled--
		if e.enabled == 0 {
			e.fetcher = nil
		}
		return
	}
	e.enabled++
	if f != nil {
		e.fetcher = f
	}
	c.maybeFetchLocked(t, e, staleTime)
}

func (c *Client) maybeFetchLocked(t *txn, e *entry, staleTime time.Duration) {
	if e.fetcher == nil || e.inflight != nil || !e.needsFetch(c.now(), staleTime) {
		return
	}
	c.startFetchLocked(t, e, e.fetcher)
}
