package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
)

func postRef(id string) model.ContentRef {
	return model.ContentRef{Kind: model.KindPost, ID: id}
}

func TestEngagement_ToggleTwiceRestoresState(t *testing.T) {
	// ARRANGE
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	m := f.engine.Engagement
	ref := postRef("p1")

	// ACT
	liked, err := m.Toggle(ctx, ref, "u1", model.EngagementLike)
	require.NoError(t, err)
	unliked, err := m.Toggle(ctx, ref, "u1", model.EngagementLike)
	require.NoError(t, err)

	// ASSERT
	assert.True(t, liked.IsActive)
	assert.Equal(t, int64(1), liked.Count)
	assert.Equal(t, model.PhaseConfirmed, liked.Phase)
	assert.False(t, unliked.IsActive)
	assert.Equal(t, int64(0), unliked.Count)
	assert.Equal(t, int64(0), f.counter(t, "posts", "p1", "likesCount"))

	_, exists := f.gw.Snapshot("posts/p1/likes", "u1")
	assert.False(t, exists)
	assert.Equal(t, []string{queue.EventEngagementToggled, queue.EventEngagementToggled}, f.publisher.types())
}

func TestEngagement_RollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	m := f.engine.Engagement
	ref := postRef("p1")

	before, err := m.State(ctx, ref, "u1", model.EngagementLike)
	require.NoError(t, err)

	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" {
			return gateway.ErrUnavailable
		}
		return nil
	})
	_, err = m.Toggle(ctx, ref, "u1", model.EngagementLike)
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	after, err := m.State(ctx, ref, "u1", model.EngagementLike)
	require.NoError(t, err)
	assert.Equal(t, before.IsActive, after.IsActive)
	assert.Equal(t, before.Count, after.Count)
	assert.Equal(t, model.PhaseRolledBack, after.Phase)
	assert.Equal(t, int64(0), f.counter(t, "posts", "p1", "likesCount"))
}

func TestEngagement_SubscribersSeeEveryPhase(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	sub := f.engine.Engagement.Subscribe("u1", 8)
	defer sub.Close()

	_, err := f.engine.Engagement.Toggle(context.Background(), postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)

	var phases []model.Phase
	for len(phases) < 3 {
		select {
		case u := <-sub.C:
			phases = append(phases, u.State.Phase)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got phases %v", phases)
		}
	}
	assert.Equal(t, []model.Phase{model.PhaseOptimistic, model.PhaseReconciling, model.PhaseConfirmed}, phases)
}

func TestEngagement_RollbackNotifiesWithError(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	_, err := f.engine.Engagement.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	sub := f.engine.Engagement.Subscribe("", 8)
	defer sub.Close()
	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" {
			return gateway.ErrPermissionDenied
		}
		return nil
	})

	_, err = f.engine.Engagement.Toggle(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.Error(t, err)

	var last model.EngagementUpdate
	for last.State.Phase != model.PhaseRolledBack {
		select {
		case last = <-sub.C:
		case <-time.After(time.Second):
			t.Fatal("no rollback update")
		}
	}
	assert.NotEmpty(t, last.Error)
	assert.False(t, last.State.IsActive)
}

func TestEngagement_OverlappingTapsCollapse(t *testing.T) {
	// ARRANGE: hold the commit so the second tap lands while the first is in flight.
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	m := f.engine.Engagement
	_, err := m.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)

	release := make(chan struct{})
	commits := 0
	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" {
			commits++
			<-release
		}
		return nil
	})

	// ACT
	first, err := m.Begin(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	second, err := m.Begin(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	close(release)
	state, err := first.Wait(ctx)

	// ASSERT
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, first.Optimistic().IsActive)
	assert.True(t, state.IsActive)
	assert.Equal(t, 1, commits)
	assert.Equal(t, int64(1), f.counter(t, "posts", "p1", "likesCount"))
}

func TestEngagement_ServerStateWinsAfterConflict(t *testing.T) {
	// Another device likes the post between this session's check and commit.
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	m := f.engine.Engagement
	_, err := m.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)

	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" {
			f.gw.SetHook(nil)
			b := f.gw.Batch()
			b.Create("posts/p1/likes", "u1", map[string]any{"createdAt": int64(1)})
			b.Increment("posts", "p1", "likesCount", 1)
			return b.Commit(ctx)
		}
		return nil
	})

	state, err := m.Toggle(ctx, postRef("p1"), "u1", model.EngagementLike)

	require.NoError(t, err)
	assert.True(t, state.IsActive)
	assert.Equal(t, int64(1), state.Count)
	assert.Equal(t, int64(1), f.counter(t, "posts", "p1", "likesCount"))
}

func TestEngagement_DeletedContentRollsBackAsGone(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	_, err := f.engine.Engagement.State(ctx, postRef("p1"), "u1", model.EngagementSave)
	require.NoError(t, err)
	require.NoError(t, f.gw.Delete(ctx, "posts", "p1"))

	_, err = f.engine.Engagement.Toggle(ctx, postRef("p1"), "u1", model.EngagementSave)

	assert.ErrorIs(t, err, model.ErrContentGone)
}

func TestEngagement_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comment := model.ContentRef{Kind: model.KindComment, ID: "c1", ParentKind: model.KindPost, ParentID: "p1"}

	_, err := f.engine.Engagement.Toggle(ctx, comment, "u1", model.EngagementSave)
	assert.ErrorIs(t, err, model.ErrUnsupportedEngagement)

	_, err = f.engine.Engagement.Toggle(ctx, postRef("p1"), "", model.EngagementLike)
	assert.ErrorIs(t, err, model.ErrUserIDRequired)

	_, err = f.engine.Engagement.Toggle(ctx, postRef("p1"), "u1", model.EngagementKind("share"))
	assert.ErrorIs(t, err, model.ErrInvalidEngagementKind)
}

func TestEngagement_ObserveRemoteUpdatesSharedCount(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	m := f.engine.Engagement
	_, err := m.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	_, err = m.State(ctx, postRef("p1"), "u2", model.EngagementLike)
	require.NoError(t, err)

	m.ObserveRemote(model.EngagementState{Ref: postRef("p1"), UserID: "u2", Kind: model.EngagementLike, IsActive: true, Count: 7})

	u1, _ := m.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	u2, _ := m.State(ctx, postRef("p1"), "u2", model.EngagementLike)
	assert.False(t, u1.IsActive)
	assert.Equal(t, int64(7), u1.Count)
	assert.True(t, u2.IsActive)
	assert.Equal(t, int64(7), u2.Count)
}

func TestEngagement_CommentLikeCountsOnComment(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	c, err := f.engine.Content.AddComment(ctx, postRef("p1"), "u2", &model.CreateCommentRequest{Text: "nice"})
	require.NoError(t, err)

	state, err := f.engine.Engagement.Toggle(ctx, c.Ref(), "u1", model.EngagementLike)

	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Count)
	assert.Equal(t, int64(1), f.counter(t, "posts/p1/comments", c.ID, "likesCount"))
}

func TestEngagement_StaleResponseAfterClearIsDiscarded(t *testing.T) {
	// ARRANGE: the first commit is held across a Clear and fails after a
	// second toggle on the same key has already been confirmed.
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()
	m := f.engine.Engagement
	_, err := m.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)

	release := make(chan struct{})
	var commits atomic.Int32
	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" && commits.Add(1) == 1 {
			<-release
			return gateway.ErrUnavailable
		}
		return nil
	})

	// ACT
	first, err := m.Begin(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return commits.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.Clear()
	second, err := m.Toggle(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	close(release)
	<-first.Done()

	// ASSERT
	assert.True(t, second.IsActive)
	after, err := m.State(ctx, postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	assert.True(t, after.IsActive)
	assert.Equal(t, int64(1), after.Count)
	assert.Equal(t, model.PhaseConfirmed, after.Phase)
	assert.Equal(t, int64(1), f.counter(t, "posts", "p1", "likesCount"))
}

func TestEngagement_TimeoutReturnsRolledBackState(t *testing.T) {
	f := newFixture(t)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	m := f.engine.Engagement
	before, err := m.State(context.Background(), postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)

	f.gw.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	state, err := m.Toggle(ctx, postRef("p1"), "u1", model.EngagementLike)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, before.IsActive, state.IsActive)
	assert.Equal(t, before.Count, state.Count)
	assert.Equal(t, model.PhaseRolledBack, state.Phase)
	after, err := m.State(context.Background(), postRef("p1"), "u1", model.EngagementLike)
	require.NoError(t, err)
	assert.Equal(t, state, after)
}
