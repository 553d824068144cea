package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bountydotnew/querykit"
	gen "github.com/bountydotnew/querykit/genstore"
	async "github.com/bountydotnew/querykit/hooks/async"
	"github.com/bountydotnew/querykit/promhooks"
	pr "github.com/bountydotnew/querykit/provider"
	"github.com/bountydotnew/querykit/provider/bigcache"
	"github.com/bountydotnew/querykit/provider/lru"
	qredis "github.com/bountydotnew/querykit/provider/redis"
	"github.com/bountydotnew/querykit/provider/ristretto"

	"github.com/bountydotnew/querykit/config"
)

// Cache is a query cache together with the resources it owns.
type Cache struct {
	*querykit.Client
	hooks *async.Hooks
	rdb   *goredis.Client
}

// Close stops the cache, drains pending hook events and releases redis.
func (c *Cache) Close(ctx context.Context) error {
	err := c.Client.Close(ctx)
	c.hooks.Close()
	if c.rdb != nil {
		if cerr := c.rdb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewCache builds the provider, generation store and hooks named by cfg.
// Metrics go to reg when it is non-nil.
func NewCache(ctx context.Context, cfg *config.Config, log Logger, reg prometheus.Registerer) (*Cache, error) {
	cc := cfg.Cache
	var rdb *goredis.Client
	if cc.Provider == "redis" || cc.GenStore == "redis" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("app: redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	p, err := newProvider(ctx, cc, rdb)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	var gs gen.GenStore
	if cc.GenStore == "redis" {
		gs = gen.NewRedisGenStore(rdb, cc.Namespace)
	}

	var inner querykit.Hooks = querykit.NopHooks{}
	if reg != nil {
		inner = promhooks.New(promhooks.Config{Namespace: cfg.Metrics.Namespace + "_cache", Registry: reg})
	}
	if log.hooks != nil {
		inner = fanout{inner, log.hooks}
	}
	hooks := async.New(inner, 1, 1024)

	client, err := querykit.New(querykit.Options{
		Namespace:  cc.Namespace,
		Provider:   p,
		Logger:     log,
		Hooks:      hooks,
		DefaultTTL: cc.TTL,
		GenStore:   gs,
	})
	if err != nil {
		hooks.Close()
		_ = p.Close(ctx)
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	if cc.GenStore == "redis" {
		rdb = nil // closed by the gen store
	}
	return &Cache{Client: client, hooks: hooks, rdb: rdb}, nil
}

func newProvider(ctx context.Context, cc config.CacheConfig, rdb *goredis.Client) (pr.Provider, error) {
	switch cc.Provider {
	case "ristretto":
		rc := ristretto.DefaultConfig()
		rc.MaxCost = cc.MaxCost
		return ristretto.New(rc)
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{LifeWindow: cc.TTL})
	case "lru":
		return lru.New(lru.Config{Size: cc.Size})
	case "redis":
		return qredis.New(qredis.Config{Client: rdb})
	default:
		return nil, fmt.Errorf("app: unknown cache provider %q", cc.Provider)
	}
}

// fanout sends every event to each hook in order.
type fanout []querykit.Hooks

func (f fanout) SelfHeal(k, reason string) {
	for _, h := range f {
		h.SelfHeal(k, reason)
	}
}

func (f fanout) ProviderSetRejected(k string) {
	for _, h := range f {
		h.ProviderSetRejected(k)
	}
}

func (f fanout) GenSnapshotError(n int, err error) {
	for _, h := range f {
		h.GenSnapshotError(n, err)
	}
}

func (f fanout) GenBumpError(prefix string, err error) {
	for _, h := range f {
		h.GenBumpError(prefix, err)
	}
}

func (f fanout) Invalidated(prefix string, watchers int) {
	for _, h := range f {
		h.Invalidated(prefix, watchers)
	}
}

func (f fanout) RefetchFailed(k string, err error) {
	for _, h := range f {
		h.RefetchFailed(k, err)
	}
}

func (f fanout) CASSkipped(k string) {
	for _, h := range f {
		h.CASSkipped(k)
	}
}
