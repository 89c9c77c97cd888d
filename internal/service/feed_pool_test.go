package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

func seedReels(t *testing.T, f *fixture, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("r%02d", i)
		f.seedContent(t, model.KindReel, ids[i], "author", int64(100+i))
	}
	return ids
}

func batchIDs(b model.FeedBatch) []string {
	ids := make([]string, len(b.Items))
	for i, item := range b.Items {
		ids[i] = item.ID
	}
	return ids
}

func TestFeedPool_EveryIDShownWithinOneCycle(t *testing.T) {
	// ARRANGE: N=10, k=3 -> ceil(10/3) = 4 calls.
	f := newFixture(t)
	all := seedReels(t, f, 10)
	pool := f.engine.FeedPool
	ctx := context.Background()
	require.NoError(t, pool.Initialize(ctx))

	// ACT
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		batch, err := pool.NextBatch(ctx, 3)
		require.NoError(t, err)
		assert.True(t, batch.HasMore)
		for _, id := range batchIDs(batch) {
			seen[id] = true
		}
	}

	// ASSERT
	for _, id := range all {
		assert.True(t, seen[id], "id %s never shown", id)
	}
}

func TestFeedPool_ContinuesPastCorpusSize(t *testing.T) {
	f := newFixture(t)
	seedReels(t, f, 4)
	pool := f.engine.FeedPool
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		batch, err := pool.NextBatch(ctx, 3)
		require.NoError(t, err)
		require.True(t, batch.HasMore)
		require.Len(t, batch.Items, 3)
	}
}

func TestFeedPool_NoDuplicatesWithinBatch(t *testing.T) {
	f := newFixture(t)
	seedReels(t, f, 7)
	pool := f.engine.FeedPool
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		batch, err := pool.NextBatch(ctx, 3)
		require.NoError(t, err)
		ids := batchIDs(batch)
		seen := map[string]bool{}
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate %s in batch %v", id, ids)
			seen[id] = true
		}
	}
}

func TestFeedPool_FreshFlagsCycleEnd(t *testing.T) {
	f := newFixture(t)
	seedReels(t, f, 6)
	pool := f.engine.FeedPool
	ctx := context.Background()

	first, err := pool.NextBatch(ctx, 3)
	require.NoError(t, err)
	second, err := pool.NextBatch(ctx, 3)
	require.NoError(t, err)
	third, err := pool.NextBatch(ctx, 3)
	require.NoError(t, err)

	assert.True(t, first.Fresh)
	assert.False(t, second.Fresh)
	assert.True(t, third.Fresh)
}

func TestFeedPool_EmptyCorpus(t *testing.T) {
	f := newFixture(t)

	batch, err := f.engine.FeedPool.NextBatch(context.Background(), 3)

	require.NoError(t, err)
	assert.Empty(t, batch.Items)
	assert.False(t, batch.HasMore)
}

func TestFeedPool_InitializeFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		return gateway.ErrUnavailable
	})

	err := f.engine.FeedPool.Initialize(context.Background())

	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func failReelReads(ctx context.Context, op, collection string) error {
	if op == "get" && collection == "reels" {
		return errors.New("connection reset")
	}
	return nil
}

func TestFeedPool_FallsBackToLatestWhenResolveFails(t *testing.T) {
	// Point reads fail, so nothing is preloaded and the batch cannot
	// resolve; the fallback query still works.
	f := newFixture(t)
	seedReels(t, f, 5)
	pool := f.engine.FeedPool
	ctx := context.Background()
	f.gw.SetHook(failReelReads)
	require.NoError(t, pool.Initialize(ctx))
	pool.Wait()

	batch, err := pool.NextBatch(ctx, 3)

	require.NoError(t, err)
	assert.True(t, batch.HasMore)
	assert.Equal(t, []string{"r04", "r03", "r02"}, batchIDs(batch))
}

func TestFeedPool_FallbackKeepsSelectionInCycle(t *testing.T) {
	// ARRANGE: one batch fails to resolve and is served from latest.
	f := newFixture(t)
	all := seedReels(t, f, 12)
	pool := f.engine.FeedPool
	ctx := context.Background()
	f.gw.SetHook(failReelReads)
	require.NoError(t, pool.Initialize(ctx))
	pool.Wait()
	_, err := pool.NextBatch(ctx, 3)
	require.NoError(t, err)
	f.gw.SetHook(nil)

	// ACT: 12 / 3 = 4 calls finish the cycle.
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		batch, err := pool.NextBatch(ctx, 3)
		require.NoError(t, err)
		for _, id := range batchIDs(batch) {
			seen[id] = true
		}
	}

	// ASSERT
	for _, id := range all {
		assert.True(t, seen[id], "id %s never shown", id)
	}
}

func TestFeedPool_ConcurrentFirstCallsInitializeOnce(t *testing.T) {
	f := newFixture(t)
	seedReels(t, f, 6)
	pool := f.engine.FeedPool
	var corpusLoads atomic.Int32
	wait := barrier(2, 200*time.Millisecond)
	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "query" && collection == "reels" {
			corpusLoads.Add(1)
			wait()
		}
		return nil
	})

	var wg sync.WaitGroup
	batches := make([]model.FeedBatch, 2)
	errs := make([]error, 2)
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batches[i], errs[i] = pool.NextBatch(context.Background(), 3)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), corpusLoads.Load())
	ids := append(batchIDs(batches[0]), batchIDs(batches[1])...)
	assert.Len(t, ids, 6)
	assert.ElementsMatch(t, []string{"r00", "r01", "r02", "r03", "r04", "r05"}, ids)
}

func TestFeedPool_RemoveAndAdd(t *testing.T) {
	f := newFixture(t)
	seedReels(t, f, 3)
	pool := f.engine.FeedPool
	ctx := context.Background()
	require.NoError(t, pool.Initialize(ctx))

	pool.Remove("r01")
	pool.Add("r09")
	pool.Add("r09")
	total, _ := pool.Stats()

	assert.Equal(t, 3, total)
}

func TestFeedPool_DeletedItemDroppedFromBatch(t *testing.T) {
	f := newFixture(t)
	seedReels(t, f, 3)
	pool := f.engine.FeedPool
	ctx := context.Background()
	f.gw.SetHook(failReelReads)
	require.NoError(t, pool.Initialize(ctx))
	pool.Wait()
	f.gw.SetHook(nil)
	require.NoError(t, f.gw.Delete(ctx, "reels", "r01"))

	batch, err := pool.NextBatch(ctx, 3)

	require.NoError(t, err)
	assert.NotContains(t, batchIDs(batch), "r01")
	assert.Len(t, batch.Items, 2)
	total, _ := pool.Stats()
	assert.Equal(t, 2, total)
}
