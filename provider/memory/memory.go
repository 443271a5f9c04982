// Package memory is the default in-process provider, backed by
// patrickmn/go-cache.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	pr "github.com/unkn0wn-root/querycache/provider"
)

type Provider struct{ c *gocache.Cache }

var _ pr.Provider = (*Provider)(nil)

// New creates a provider whose expired items are purged every
// cleanupInterval (0 disables the janitor; expired items are still hidden).
func New(cleanupInterval time.Duration) *Provider {
	return &Provider{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Delete(key) // self-heal: unexpected entry shape
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	p.c.Set(key, value, ttl)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

// Len returns the number of stored items, including expired ones not yet purged.
func (p *Provider) Len() int { return p.c.ItemCount() }

func (p *Provider) Close(_ context.Context) error {
	p.c.Flush()
	return nil
}
