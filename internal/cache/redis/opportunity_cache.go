package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// oppTTL keeps a stale snapshot from outliving a stopped engine; the
// engine overwrites the key every tick, so any healthy deployment stays
// well inside it.
const oppTTL = 30 * time.Second

const oppKey = "opp:latest"

// OpportunityCache implements domain.OpportunityCache as a single
// JSON-serialized key holding the engine's latest snapshot.
type OpportunityCache struct {
	rdb *redis.Client
}

// NewOpportunityCache creates an OpportunityCache backed by the given Client.
func NewOpportunityCache(c *Client) *OpportunityCache {
	return &OpportunityCache{rdb: c.Underlying()}
}

// SetLatest replaces the cached snapshot.
func (c *OpportunityCache) SetLatest(ctx context.Context, opps []domain.Opportunity) error {
	data, err := json.Marshal(opps)
	if err != nil {
		return fmt.Errorf("redis: marshal opportunities: %w", err)
	}
	if err := c.rdb.Set(ctx, oppKey, data, oppTTL).Err(); err != nil {
		return fmt.Errorf("redis: set opportunities: %w", err)
	}
	return nil
}

// GetLatest returns the cached snapshot, or an empty slice when the key is
// missing or expired.
func (c *OpportunityCache) GetLatest(ctx context.Context) ([]domain.Opportunity, error) {
	data, err := c.rdb.Get(ctx, oppKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get opportunities: %w", err)
	}

	var opps []domain.Opportunity
	if err := json.Unmarshal(data, &opps); err != nil {
		return nil, fmt.Errorf("redis: unmarshal opportunities: %w", err)
	}
	return opps, nil
}

var _ domain.OpportunityCache = (*OpportunityCache)(nil)
