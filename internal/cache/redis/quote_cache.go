package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// quoteTTL expires cached quotes well after any consumer would still trust
// them; the aggregator overwrites every poll cycle anyway.
const quoteTTL = time.Minute

// QuoteCache implements domain.QuoteCache using Redis strings. Each pair's
// latest quotes are stored as a JSON array at "quotes:{pairKey}", so
// external dashboards and other instances can read the live view without
// touching the chain.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(pairKey string) string {
	return "quotes:" + pairKey
}

// SetQuotes stores one pair's quotes from the current poll cycle.
func (qc *QuoteCache) SetQuotes(ctx context.Context, pairKey string, quotes []domain.VenueQuote) error {
	data, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("redis: marshal quotes %s: %w", pairKey, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(pairKey), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quotes %s: %w", pairKey, err)
	}
	return nil
}

// GetQuotes retrieves the cached quotes for a pair. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (qc *QuoteCache) GetQuotes(ctx context.Context, pairKey string) ([]domain.VenueQuote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(pairKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get quotes %s: %w", pairKey, err)
	}

	var quotes []domain.VenueQuote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("redis: unmarshal quotes %s: %w", pairKey, err)
	}
	return quotes, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
