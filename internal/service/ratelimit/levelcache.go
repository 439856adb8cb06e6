package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// ScoreSource is the source of truth behind the level cache.
type ScoreSource interface {
	GetScore(ctx context.Context, tenantID string) (*domain.TenantScore, error)
}

// LevelCache holds each tenant's last classified level in Redis with a short
// TTL. A miss falls back to the score store and repopulates the key. It is
// also the ledger's level publisher, so writes refresh it immediately.
type LevelCache struct {
	redis  *redis.Client
	scores ScoreSource
	ttl    time.Duration
}

// NewLevelCache creates a cache. client may be nil, in which case every read
// goes to scores.
func NewLevelCache(client *redis.Client, scores ScoreSource, ttl time.Duration) *LevelCache {
	return &LevelCache{redis: client, scores: scores, ttl: ttl}
}

func levelKey(tenantID string) string { return "abuse:level:" + tenantID }

// Level returns the cached level, loading it from the score store on a miss.
func (c *LevelCache) Level(ctx context.Context, tenantID string) (domain.Level, error) {
	if c.redis != nil && c.ttl > 0 {
		raw, err := c.redis.Get(ctx, levelKey(tenantID)).Result()
		switch {
		case err == nil:
			if n, perr := strconv.Atoi(raw); perr == nil && n >= int(domain.LevelNone) && n <= int(domain.LevelCritical) {
				return domain.Level(n), nil
			}
			logger.Warn("discarding malformed cached level", "tenant_id", tenantID, "value", raw)
		case errors.Is(err, redis.Nil):
		default:
			logger.Warn("level cache read failed, using score store", "tenant_id", tenantID, "error", err)
		}
	}

	score, err := c.scores.GetScore(ctx, tenantID)
	if err != nil {
		return domain.LevelNone, fmt.Errorf("load level: %w", err)
	}
	c.store(ctx, tenantID, score.Level)
	return score.Level, nil
}

// PublishLevel refreshes the cached level after a score change.
func (c *LevelCache) PublishLevel(ctx context.Context, tenantID string, level domain.Level) error {
	if c.redis == nil || c.ttl <= 0 {
		return nil
	}
	if err := c.redis.Set(ctx, levelKey(tenantID), strconv.Itoa(int(level)), c.ttl).Err(); err != nil {
		return fmt.Errorf("publish level: %w", err)
	}
	return nil
}

func (c *LevelCache) store(ctx context.Context, tenantID string, level domain.Level) {
	if err := c.PublishLevel(ctx, tenantID, level); err != nil {
		logger.Warn("level cache write failed", "tenant_id", tenantID, "error", err)
	}
}
