package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/internal/bus"
	pr "github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/memory"
)

type SetCostFunc func(storageKey string, raw []byte) int64

// Options tune a Client. The zero value is usable.
type Options struct {
	Namespace string      // isolates provider/genstore keys; "" => "query"
	Provider  pr.Provider // nil => in-process memory provider
	GenStore  gen.GenStore

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// StaleTime is how long fetched data counts as fresh. 0 means data is
	// stale immediately (every new observer refetches while still serving
	// cached data); negative means never stale by age.
	StaleTime time.Duration

	GCTime          time.Duration // unobserved entries are dropped after this; 0 => 5m
	CleanupInterval time.Duration // 0 => 1m
	GenRetention    time.Duration // local generations kept this long after last bump; 0 => 24h
	DataTTL         time.Duration // provider TTL for entry data; 0 => none
	ComputeSetCost  SetCostFunc   // default 1
}

// Client owns one entry store. Create it at startup and pass it to whatever
// needs cached data; there is no package-level instance.
type Client struct {
	ns             string
	provider       pr.Provider
	gens           gen.GenStore
	log            Logger
	hooks          Hooks
	bus            *bus.Bus
	staleTime      time.Duration
	gcTime         time.Duration
	dataTTL        time.Duration
	genRetention   time.Duration
	computeSetCost SetCostFunc
	now            func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	closed  bool
	sf      singleflight.Group

	// fetches run under ctx; Close cancels it
	ctx    context.Context
	cancel context.CancelFunc

	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func New(opts Options) (*Client, error) {
	if opts.GCTime < 0 || opts.CleanupInterval < 0 || opts.GenRetention < 0 || opts.DataTTL < 0 {
		return nil, errors.New("querycache: negative duration in options")
	}

	c := &Client{
		ns:        coalesce(opts.Namespace, defaultNamespace),
		provider:  opts.Provider,
		gens:      opts.GenStore,
		bus:       bus.New(),
		staleTime: opts.StaleTime,
		dataTTL:   opts.DataTTL,
		entries:   make(map[string]*entry),
		now:       time.Now,
		// versions are framed into provider values; seeding keeps two
		// clients sharing a provider from minting the same ones
		seq: uint64(time.Now().UnixNano()),
	}

	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.gcTime = coalesce(opts.GCTime, defaultGCTime)
	c.genRetention = coalesce(opts.GenRetention, defaultGenRetention)
	sweep := coalesce(opts.CleanupInterval, defaultSweep)

	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = func(string, []byte) int64 { return 1 }
	}
	if c.provider == nil {
		c.provider = memory.New(defaultProviderSweep)
	}
	if c.gens == nil {
		// pruned by our own cleanup loop
		c.gens = gen.NewLocal(0, 0)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.ticker = time.NewTicker(sweep)
	c.stopCh = make(chan struct{})
	c.closeWg.Add(1)
	go c.cleanupLoop()

	return c, nil
}

// NewCache returns a typed view over c. A nil codec means JSON.
func NewCache[V any](c *Client, cd codec.Codec[V]) *Cache[V] {
	if cd == nil {
		cd = codec.JSON[V]{}
	}
	return &Cache[V]{c: c, codec: cd}
}

// Close cancels in-flight fetches, stops the cleanup loop and closes the
// provider and generation store.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		close(c.stopCh)
		c.closeWg.Wait()
		c.ticker.Stop()

		err = errors.Join(c.gens.Close(ctx), c.provider.Close(ctx))
	})
	return err
}
