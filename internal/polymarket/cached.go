package polymarket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/predixlabs/predix-agent/internal/cache"
	"github.com/predixlabs/predix-agent/internal/model"
)

// Cached wraps a Provider with a TTL cache for the read-heavy, slow-moving
// calls (search, history). Market lookups and positions always hit the
// upstream so trades and portfolio views see fresh prices.
type Cached struct {
	inner Provider
	store *cache.Store
	ttl   time.Duration
}

func NewCached(inner Provider, store *cache.Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cached{inner: inner, store: store, ttl: ttl}
}

func (c *Cached) Search(ctx context.Context, query string, limit int) ([]model.Market, error) {
	key := cacheKey("search", query, fmt.Sprint(limit))
	var cached []model.Market
	if c.lookup(key, &cached) {
		return cached, nil
	}
	markets, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	c.save(key, markets)
	return markets, nil
}

func (c *Cached) Market(ctx context.Context, marketID string) (*model.Market, error) {
	return c.inner.Market(ctx, marketID)
}

func (c *Cached) History(ctx context.Context, marketID string, days int) ([]model.PricePoint, error) {
	key := cacheKey("history", marketID, fmt.Sprint(days))
	var cached []model.PricePoint
	if c.lookup(key, &cached) {
		return cached, nil
	}
	points, err := c.inner.History(ctx, marketID, days)
	if err != nil {
		return nil, err
	}
	c.save(key, points)
	return points, nil
}

func (c *Cached) Positions(ctx context.Context, address string) ([]model.Position, error) {
	return c.inner.Positions(ctx, address)
}

func (c *Cached) lookup(key string, out any) bool {
	if c.store == nil {
		return false
	}
	res, err := c.store.Get(key, 0)
	if err != nil || !res.Hit || res.Stale {
		return false
	}
	return json.Unmarshal(res.Value, out) == nil
}

func (c *Cached) save(key string, value any) {
	if c.store == nil {
		return
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return
	}
	// A failed cache write never fails the request.
	_ = c.store.Set(key, buf, c.ttl)
}

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "polymarket:" + hex.EncodeToString(h.Sum(nil))
}
