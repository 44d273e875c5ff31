package market

import (
	"context"
	"time"

	"github.com/gallery-live/marketsync/internal/cache"
	"github.com/gallery-live/marketsync/pkg/market/models"
)

// IndexerClient is the eventually-consistent read path (the subgraph).
// Implementations own the GraphQL transport; this package only consumes
// the collections.
type IndexerClient interface {
	ActiveListings(ctx context.Context, collection string) ([]models.Listing, error)
	TokensByOwner(ctx context.Context, owner string) ([]models.OwnedToken, error)
	SplitterBalance(ctx context.Context, splitter, account string) (string, error)
}

// CachedIndexerClient wraps an IndexerClient with short-lived read caches.
// ClearCaches must be called after any mutation that could invalidate
// them; the TTL only bounds staleness between mutations.
type CachedIndexerClient struct {
	inner    IndexerClient
	listings *cache.TTL[string, []models.Listing]
	tokens   *cache.TTL[string, []models.OwnedToken]
	balances *cache.TTL[string, string]
}

func NewCachedIndexerClient(inner IndexerClient, ttl time.Duration) *CachedIndexerClient {
	return &CachedIndexerClient{
		inner:    inner,
		listings: cache.NewTTL[string, []models.Listing](ttl),
		tokens:   cache.NewTTL[string, []models.OwnedToken](ttl),
		balances: cache.NewTTL[string, string](ttl),
	}
}

func (c *CachedIndexerClient) ActiveListings(ctx context.Context, collection string) ([]models.Listing, error) {
	if cached, ok := c.listings.Get(collection); ok {
		return cached, nil
	}
	fresh, err := c.inner.ActiveListings(ctx, collection)
	if err != nil {
		return nil, err
	}
	c.listings.Set(collection, fresh)
	return fresh, nil
}

func (c *CachedIndexerClient) TokensByOwner(ctx context.Context, owner string) ([]models.OwnedToken, error) {
	if cached, ok := c.tokens.Get(owner); ok {
		return cached, nil
	}
	fresh, err := c.inner.TokensByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.tokens.Set(owner, fresh)
	return fresh, nil
}

func (c *CachedIndexerClient) SplitterBalance(ctx context.Context, splitter, account string) (string, error) {
	key := splitter + ":" + account
	if cached, ok := c.balances.Get(key); ok {
		return cached, nil
	}
	fresh, err := c.inner.SplitterBalance(ctx, splitter, account)
	if err != nil {
		return "", err
	}
	c.balances.Set(key, fresh)
	return fresh, nil
}

func (c *CachedIndexerClient) ClearCaches() {
	c.listings.Clear()
	c.tokens.Clear()
	c.balances.Clear()
}
