// Package cache holds Redis-backed read-through caches.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/model"
	"github.com/SinaHo/learning-platform-referrals/internal/referral"
)

const keyPrefix = "referral:code:"

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// ReferralCache maps referral codes to account ids in Redis in front of the
// account store. Codes never change owner, so entries are only stale once the
// owner is deleted; signup re-checks the referrer, so a stale hit costs at
// most one attribution cookie that later resolves to nothing.
//
// Hits return a User with only ID and ReferralCode populated.
type ReferralCache struct {
	client RedisClient
	next   referral.ReferrerLookup
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewReferralCache(client RedisClient, next referral.ReferrerLookup, ttl time.Duration, logger *zap.SugaredLogger) *ReferralCache {
	return &ReferralCache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *ReferralCache) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	key := keyPrefix + code
	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if id, perr := uuid.Parse(val); perr == nil {
			return &model.User{ID: id, ReferralCode: code}, nil
		}
		c.logger.Warnw("discarding malformed cache entry", "key", key, "value", val)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warnw("referral cache read failed", "key", key, "error", err)
	}

	u, err := c.next.GetByReferralCode(ctx, code)
	if err != nil || u == nil {
		return u, err
	}
	if err := c.client.Set(ctx, key, u.ID.String(), c.ttl).Err(); err != nil {
		c.logger.Warnw("referral cache write failed", "key", key, "error", err)
	}
	return u, nil
}
