package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"iamstagram_engine/internal/model"
)

const (
	// ContentIndexPrefix is the key prefix for per-kind content ID indexes.
	ContentIndexPrefix = "content:index:"

	// ContentIndexCap is the maximum number of IDs kept per kind.
	ContentIndexCap = 5000

	// ContentIndexTTL expires an index nobody has touched for a week.
	ContentIndexTTL = 7 * 24 * time.Hour
)

// ScoredID is a content ID with its creation time in Unix milliseconds.
type ScoredID struct {
	ID        string
	CreatedAt int64
}

// ContentIndex keeps the newest ContentIndexCap post or reel IDs ordered by
// creation time, so the feed pool can load its corpus without touching the
// document store. Older IDs are trimmed; a full index is not the whole
// corpus. It is shared by every session pointed at the same Redis.
type ContentIndex interface {
	// Add inserts one ID. Pipeline: ZADD + ZREMRANGEBYRANK (cap) + EXPIRE.
	Add(ctx context.Context, kind model.ContentKind, id string, createdAt int64) error
	Remove(ctx context.Context, kind model.ContentKind, id string) error
	// IDs returns every indexed ID, newest first, at most ContentIndexCap.
	IDs(ctx context.Context, kind model.ContentKind) ([]string, error)
	// Warm bulk-inserts IDs, used when the index is missing.
	Warm(ctx context.Context, kind model.ContentKind, ids []ScoredID) error
	Exists(ctx context.Context, kind model.ContentKind) (bool, error)
}

type RedisContentIndex struct {
	client *redis.Client
	logger *zap.Logger
}

func NewContentIndex(client *redis.Client, logger *zap.Logger) ContentIndex {
	return &RedisContentIndex{client: client, logger: logger.Named("content_index")}
}

func indexKey(kind model.ContentKind) string {
	return ContentIndexPrefix + string(kind)
}

func (c *RedisContentIndex) Add(ctx context.Context, kind model.ContentKind, id string, createdAt int64) error {
	key := indexKey(kind)
	startTime := time.Now()

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(createdAt), Member: id})
	// Keep the newest ContentIndexCap members; rank 0 is the oldest.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-ContentIndexCap-1))
	pipe.Expire(ctx, key, ContentIndexTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Add FAILED", zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("add to content index: %w", err)
	}

	c.logger.Debug("Add OK", zap.String("kind", string(kind)), zap.String("id", id), zap.Duration("duration", time.Since(startTime)))
	return nil
}

func (c *RedisContentIndex) Remove(ctx context.Context, kind model.ContentKind, id string) error {
	removed, err := c.client.ZRem(ctx, indexKey(kind), id).Result()
	if err != nil {
		c.logger.Warn("Remove FAILED", zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("remove from content index: %w", err)
	}

	c.logger.Debug("Remove OK", zap.String("kind", string(kind)), zap.String("id", id), zap.Int64("removed", removed))
	return nil
}

func (c *RedisContentIndex) IDs(ctx context.Context, kind model.ContentKind) ([]string, error) {
	key := indexKey(kind)
	startTime := time.Now()

	ids, err := c.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		c.logger.Warn("IDs FAILED", zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("read content index: %w", err)
	}

	// Refresh TTL on access
	c.client.Expire(ctx, key, ContentIndexTTL)

	c.logger.Debug("IDs OK", zap.String("kind", string(kind)), zap.Int("returned", len(ids)), zap.Duration("duration", time.Since(startTime)))
	return ids, nil
}

func (c *RedisContentIndex) Warm(ctx context.Context, kind model.ContentKind, ids []ScoredID) error {
	if len(ids) == 0 {
		return nil
	}
	key := indexKey(kind)

	members := make([]redis.Z, len(ids))
	for i, s := range ids {
		members[i] = redis.Z{Score: float64(s.CreatedAt), Member: s.ID}
	}

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-ContentIndexCap-1))
	pipe.Expire(ctx, key, ContentIndexTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Warm FAILED", zap.String("kind", string(kind)), zap.Int("ids", len(ids)), zap.Error(err))
		return fmt.Errorf("warm content index: %w", err)
	}

	c.logger.Info("Warm OK", zap.String("kind", string(kind)), zap.Int("ids", len(ids)))
	return nil
}

func (c *RedisContentIndex) Exists(ctx context.Context, kind model.ContentKind) (bool, error) {
	n, err := c.client.Exists(ctx, indexKey(kind)).Result()
	if err != nil {
		return false, fmt.Errorf("check content index: %w", err)
	}
	return n > 0, nil
}
