package spatialquery

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/core/observability"
)

// Store is a shared byte cache, e.g. redisstore.Client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type CachedConfig struct {
	Size      int           // in-process entries, 0 disables the memory tier
	TTL       time.Duration // applies to both tiers
	OpTimeout time.Duration // per remote op
}

// Cached serves responses by FetchKey from an in-process LRU, then an optional
// shared store, before calling next. Cached collections are shared and must
// be treated as read-only.
type Cached struct {
	logger *slog.Logger
	next   Querier
	mem    *expirable.LRU[string, *geojson.FeatureCollection]
	remote Store
	cfg    CachedConfig
}

var _ Querier = (*Cached)(nil)

// NewCached wraps next. remote may be nil.
func NewCached(logger *slog.Logger, next Querier, remote Store, cfg CachedConfig) *Cached {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	c := &Cached{logger: logger, next: next, remote: remote, cfg: cfg}
	if cfg.Size > 0 {
		c.mem = expirable.NewLRU[string, *geojson.FeatureCollection](cfg.Size, nil, cfg.TTL)
	}
	return c
}

func (c *Cached) Query(ctx context.Context, r Request) (*geojson.FeatureCollection, error) {
	if r.Key == "" {
		return c.next.Query(ctx, r)
	}
	if !r.Fresh {
		if fc, ok := c.lookup(ctx, r.Key); ok {
			return fc, nil
		}
	}

	fc, err := c.next.Query(ctx, r)
	if err != nil {
		return nil, err
	}
	c.store(ctx, r.Key, fc)
	return fc, nil
}

// Len reports entries held in memory.
func (c *Cached) Len() int {
	if c.mem == nil {
		return 0
	}
	return c.mem.Len()
}

// Purge drops the memory tier. Shared entries expire by TTL.
func (c *Cached) Purge() {
	if c.mem != nil {
		c.mem.Purge()
	}
}

func (c *Cached) lookup(ctx context.Context, key string) (*geojson.FeatureCollection, bool) {
	if c.mem != nil {
		fc, ok := c.mem.Get(key)
		observability.IncResponseCache("memory", ok)
		if ok {
			return fc, true
		}
	}
	if c.remote == nil {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	b, ok, err := c.remote.Get(opCtx, key)
	if err != nil {
		c.logger.Warn("shared cache read failed", "key", key, "err", err)
		return nil, false
	}
	observability.IncResponseCache("redis", ok)
	if !ok {
		return nil, false
	}
	fc, err := model.DecodeFeatures(b)
	if err != nil {
		c.logger.Warn("shared cache entry unreadable", "key", key, "err", err)
		return nil, false
	}
	if c.mem != nil {
		c.mem.Add(key, fc)
	}
	return fc, true
}

func (c *Cached) store(ctx context.Context, key string, fc *geojson.FeatureCollection) {
	if c.mem != nil {
		c.mem.Add(key, fc)
	}
	if c.remote == nil {
		return
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		c.logger.Warn("encode for shared cache", "key", key, "err", err)
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OpTimeout)
	defer cancel()
	if err := c.remote.Set(opCtx, key, b, c.cfg.TTL); err != nil {
		c.logger.Warn("shared cache write failed", "key", key, "err", err)
	}
}
