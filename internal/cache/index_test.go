package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/model"
)

// setupRedis connects to TEST_REDIS_URL (default localhost:6379) and skips
// the test when Redis is not reachable.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.Del(context.Background(), cache.ContentIndexPrefix+string(model.KindReel))
	t.Cleanup(func() {
		client.Del(context.Background(), cache.ContentIndexPrefix+string(model.KindReel))
		client.Close()
	})
	return client
}

func TestContentIndex_AddRemoveOrder(t *testing.T) {
	client := setupRedis(t)
	idx := cache.NewContentIndex(client, zap.NewNop())
	ctx := context.Background()

	exists, err := idx.Exists(ctx, model.KindReel)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, idx.Warm(ctx, model.KindReel, []cache.ScoredID{{ID: "r1", CreatedAt: 100}, {ID: "r2", CreatedAt: 200}}))
	require.NoError(t, idx.Add(ctx, model.KindReel, "r3", 300))

	ids, err := idx.IDs(ctx, model.KindReel)
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2", "r1"}, ids)

	require.NoError(t, idx.Remove(ctx, model.KindReel, "r2"))
	ids, err = idx.IDs(ctx, model.KindReel)
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r1"}, ids)
}
