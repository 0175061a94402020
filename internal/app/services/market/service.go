// Package market serves the per-token market overview, cached in Redis.
package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

const cacheKey = "market:overview"

// Service computes the market overview. The aggregate joins holdings and a
// 24h transaction window, so results are cached briefly; any cache failure
// falls through to the database.
type Service struct {
	store storage.MarketStore
	cache *redis.Client
	ttl   time.Duration
	log   *logger.Logger
}

// New constructs a market service. cache may be nil, which disables caching.
func New(store storage.MarketStore, cache *redis.Client, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("market")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{store: store, cache: cache, ttl: ttl, log: log}
}

// Overview returns per-token stats: price, holder count, total held and 24h
// volume.
func (s *Service) Overview(ctx context.Context) ([]storage.TokenMarketStats, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []storage.TokenMarketStats
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		} else if err != redis.Nil {
			s.log.WithError(err).Warn("market cache read failed")
		}
	}

	stats, err := s.store.MarketOverview(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, cacheKey, raw, s.ttl).Err(); err != nil {
				s.log.WithError(err).Warn("market cache write failed")
			}
		}
	}
	return stats, nil
}
