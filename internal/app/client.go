package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/beta"
	"github.com/bountydotnew/querykit/config"
	"github.com/bountydotnew/querykit/rpc"
	"github.com/bountydotnew/querykit/social"
)

// Clients is the CLI side: typed query clients over one cache and one
// connection to the daemon.
type Clients struct {
	Cache  *Cache
	RPC    *rpc.Client
	Beta   *beta.Client
	Social *social.Client
}

// DialOptions override parts of the configured connection.
type DialOptions struct {
	HTTPClient   *http.Client
	Registry     prometheus.Registerer // cache metrics; nil => none
	OnReviewed   func(beta.Application)
	OnMutateFail func(proc string, err error)
}

// Dial connects to cfg.RPC.URL. The cache is local to this process.
func Dial(ctx context.Context, cfg *config.Config, log Logger, opts DialOptions) (*Clients, error) {
	rc, err := rpc.NewClient(rpc.ClientOptions{
		BaseURL:    cfg.RPC.URL,
		Token:      cfg.RPC.Token,
		HTTPClient: opts.HTTPClient,
		Timeout:    cfg.RPC.Timeout,
	})
	if err != nil {
		return nil, err
	}
	cache, err := NewCache(ctx, cfg, log, opts.Registry)
	if err != nil {
		return nil, err
	}
	bc, err := beta.NewClient(cache, beta.RemoteOf(rc), beta.ClientOptions{
		Logger:     log,
		OnReviewed: opts.OnReviewed,
		OnReviewError: func(err error, _ beta.UpdateStatusInput) {
			callErr(opts.OnMutateFail, beta.ProcUpdateStatus, err)
		},
	})
	if err != nil {
		_ = cache.Close(ctx)
		return nil, err
	}
	sc, err := social.NewClient(cache, social.RemoteOf(rc), social.ClientOptions{
		Logger:  log,
		OnError: opts.OnMutateFail,
	})
	if err != nil {
		_ = cache.Close(ctx)
		return nil, err
	}
	return &Clients{Cache: cache, RPC: rc, Beta: bc, Social: sc}, nil
}

// Close waits for in-flight mutations before releasing the cache.
func (c *Clients) Close(ctx context.Context) error {
	c.Beta.Wait()
	c.Social.Wait()
	return c.Cache.Close(ctx)
}

func callErr(fn func(string, error), proc string, err error) {
	if fn != nil {
		fn(proc, err)
	}
}

var _ querykit.Cache = (*Cache)(nil)
