package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/model"
)

func TestEngine_ClearCacheForUserOnlyDropsThatUser(t *testing.T) {
	// ARRANGE
	f := newFixture(t)
	f.seedUser(t, "u1", 1, 1, false)
	f.seedUser(t, "u2", 2, 2, false)
	ctx := context.Background()
	e := f.engine
	e.SocialGraph.GetFollowCounts(ctx, "u1")
	e.SocialGraph.GetFollowCounts(ctx, "u2")
	_, err := e.Profiles.LoadProfile(ctx, "u2", "u1")
	require.NoError(t, err)

	// ACT
	n := e.ClearCacheForUser("u1")

	// ASSERT
	assert.Positive(t, n)
	_, ok := e.Cache.Get(cache.CountsKey("u1"))
	assert.False(t, ok)
	_, ok = e.Cache.Get(cache.ProfileKey("u2", "u1"))
	assert.False(t, ok)
	_, ok = e.Cache.Get(cache.CountsKey("u2"))
	assert.True(t, ok)
}

func TestEngine_ClearCacheDropsEverything(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 1, 1, false)
	f.seedContent(t, model.KindPost, "p1", "u1", 100)
	ctx := context.Background()
	e := f.engine
	e.SocialGraph.GetFollowCounts(ctx, "u1")
	_, err := e.Engagement.Toggle(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)

	e.ClearCache()

	assert.Zero(t, e.Cache.Len())
	// Engagement state reloads from the store rather than the cleared map.
	state, err := e.Engagement.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	assert.True(t, state.IsActive)
	assert.Equal(t, model.PhaseIdle, state.Phase)
}

func TestEngine_SessionsShareNothingButTheStore(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	f.seedUser(t, "u2", 0, 0, false)
	ctx := context.Background()
	other := f.newSession()
	before := other.SocialGraph.GetFollowCounts(ctx, "u1")
	require.Equal(t, int64(0), before.FollowersCount)

	_, err := f.engine.SocialGraph.Follow(ctx, "u2", "u1")
	require.NoError(t, err)

	// The other session keeps its cached value until told or expired.
	stale := other.SocialGraph.GetFollowCounts(ctx, "u1")
	assert.Equal(t, int64(0), stale.FollowersCount)
	other.SocialGraph.InvalidateEdge("u2", "u1")
	fresh := other.SocialGraph.GetFollowCounts(ctx, "u1")
	assert.Equal(t, int64(1), fresh.FollowersCount)
}
