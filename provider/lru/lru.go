package lru

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/bountydotnew/querykit/provider"
)

// Provider is a bounded, item-count LRU. Handy for CLI processes where a
// cost-based cache would be oversized.
type Provider struct {
	c *lru.Cache[string, item]
}

type item struct {
	v   []byte
	exp time.Time // zero => no expiry
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Size int // max entries; must be > 0
}

func New(cfg Config) (*Provider, error) {
	if cfg.Size <= 0 {
		return nil, errors.New("lru: size must be positive")
	}
	c, err := lru.New[string, item](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !it.exp.IsZero() && time.Now().After(it.exp) {
		p.c.Remove(key)
		return nil, false, nil
	}
	return it.v, true, nil
}

// Set never rejects; the oldest entry is evicted instead.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.c.Add(key, item{v: value, exp: exp})
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Purge()
	return nil
}

// Len reports the number of cached entries, expired ones included.
func (p *Provider) Len() int { return p.c.Len() }
