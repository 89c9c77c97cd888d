package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
)

func validRequest() *model.CreateContentRequest {
	return &model.CreateContentRequest{
		Caption:   "hello",
		MediaURLs: []string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
		MediaKeys: []string{"media/u1/a.jpg", "media/u1/b.jpg"},
	}
}

func TestContent_CreateBumpsAuthorCounter(t *testing.T) {
	// ARRANGE
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	ctx := context.Background()

	// ACT
	item, err := f.engine.Content.CreateContent(ctx, "u1", model.KindReel, validRequest())

	// ASSERT
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, int64(1), f.counter(t, "users", "u1", "reelsCount"))
	assert.Equal(t, int64(0), f.counter(t, "users", "u1", "postsCount"))
	assert.Equal(t, []string{queue.EventContentCreated}, f.publisher.types())

	stored, err := f.engine.Content.GetContent(ctx, item.Ref())
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Caption)
	assert.Equal(t, validRequest().MediaKeys, stored.MediaKeys)
}

func TestContent_CreateValidation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	ctx := context.Background()

	tooMany := validRequest()
	tooMany.MediaURLs = make([]string, model.MaxMediaCount+1)
	longCaption := validRequest()
	longCaption.Caption = strings.Repeat("a", model.MaxCaptionLength+1)

	tests := []struct {
		name    string
		author  string
		kind    model.ContentKind
		req     *model.CreateContentRequest
		wantErr error
	}{
		{"comment kind", "u1", model.KindComment, validRequest(), model.ErrInvalidContentKind},
		{"no media", "u1", model.KindPost, &model.CreateContentRequest{Caption: "x"}, model.ErrNoMediaProvided},
		{"too many media", "u1", model.KindPost, tooMany, model.ErrTooManyMedia},
		{"caption too long", "u1", model.KindPost, longCaption, model.ErrCaptionTooLong},
		{"unknown author", "ghost", model.KindPost, validRequest(), model.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Content.CreateContent(ctx, tt.author, tt.kind, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestContent_DeleteCascadesAndRemovesMedia(t *testing.T) {
	// ARRANGE: a post with a like, a save and a liked comment.
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	f.seedUser(t, "u2", 0, 0, false)
	ctx := context.Background()
	item, err := f.engine.Content.CreateContent(ctx, "u1", model.KindPost, validRequest())
	require.NoError(t, err)
	ref := item.Ref()
	_, err = f.engine.Engagement.Toggle(ctx, ref, "u2", model.EngagementLike)
	require.NoError(t, err)
	_, err = f.engine.Engagement.Toggle(ctx, ref, "u2", model.EngagementSave)
	require.NoError(t, err)
	c, err := f.engine.Content.AddComment(ctx, ref, "u2", &model.CreateCommentRequest{Text: "wow"})
	require.NoError(t, err)
	_, err = f.engine.Engagement.Toggle(ctx, c.Ref(), "u1", model.EngagementLike)
	require.NoError(t, err)

	// ACT
	err = f.engine.Content.DeleteContent(ctx, ref, "u1")

	// ASSERT
	require.NoError(t, err)
	_, exists := f.gw.Snapshot("posts", item.ID)
	assert.False(t, exists)
	for _, coll := range []string{"posts/" + item.ID + "/likes", "posts/" + item.ID + "/saves", "posts/" + item.ID + "/comments", "posts/" + item.ID + "/comments/" + c.ID + "/likes"} {
		n, err := f.gw.Count(ctx, coll, nil)
		require.NoError(t, err)
		assert.Zero(t, n, coll)
	}
	assert.ElementsMatch(t, validRequest().MediaKeys, f.media.deleted)
	assert.Equal(t, int64(0), f.counter(t, "users", "u1", "postsCount"))
	assert.Contains(t, f.publisher.types(), queue.EventContentDeleted)

	_, err = f.engine.Content.GetContent(ctx, ref)
	assert.ErrorIs(t, err, model.ErrContentGone)
}

func TestContent_DeleteRequiresOwner(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	ctx := context.Background()
	item, err := f.engine.Content.CreateContent(ctx, "u1", model.KindPost, validRequest())
	require.NoError(t, err)

	err = f.engine.Content.DeleteContent(ctx, item.Ref(), "intruder")

	assert.ErrorIs(t, err, model.ErrNotContentOwner)
	_, exists := f.gw.Snapshot("posts", item.ID)
	assert.True(t, exists)
}

func TestContent_DeleteSurvivesMediaFailure(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	ctx := context.Background()
	item, err := f.engine.Content.CreateContent(ctx, "u1", model.KindPost, validRequest())
	require.NoError(t, err)
	f.media.deleteFn = func(key string) error { return errors.New("bucket offline") }

	err = f.engine.Content.DeleteContent(ctx, item.Ref(), "u1")

	require.NoError(t, err)
	assert.Len(t, f.media.deleted, 2)
}

func TestContent_DeleteTwiceReportsGone(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	ctx := context.Background()
	item, err := f.engine.Content.CreateContent(ctx, "u1", model.KindPost, validRequest())
	require.NoError(t, err)
	require.NoError(t, f.engine.Content.DeleteContent(ctx, item.Ref(), "u1"))

	err = f.engine.Content.DeleteContent(ctx, item.Ref(), "u1")

	assert.ErrorIs(t, err, model.ErrContentGone)
}

func TestContent_CommentLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	f.seedContent(t, model.KindPost, "p1", "author", 100)
	ctx := context.Background()

	c, err := f.engine.Content.AddComment(ctx, postRef("p1"), "u1", &model.CreateCommentRequest{Text: "  hi  "})
	require.NoError(t, err)
	assert.Equal(t, "hi", c.Text)
	require.NotNil(t, c.Author)
	assert.Equal(t, int64(1), f.counter(t, "posts", "p1", "commentsCount"))

	err = f.engine.Content.DeleteComment(ctx, c.Ref(), "someone-else")
	assert.ErrorIs(t, err, model.ErrNotContentOwner)

	require.NoError(t, f.engine.Content.DeleteComment(ctx, c.Ref(), "u1"))
	assert.Equal(t, int64(0), f.counter(t, "posts", "p1", "commentsCount"))
}

func TestContent_CommentOnMissingParent(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Content.AddComment(context.Background(), postRef("gone"), "u1", &model.CreateCommentRequest{Text: "hi"})

	assert.ErrorIs(t, err, model.ErrContentGone)
}

func TestContent_CreatedReelJoinsFeedPool(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", 0, 0, false)
	ctx := context.Background()
	require.NoError(t, f.engine.FeedPool.Initialize(ctx))

	item, err := f.engine.Content.CreateContent(ctx, "u1", model.KindReel, validRequest())
	require.NoError(t, err)
	batch, err := f.engine.FeedPool.NextBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, batchIDs(batch))

	require.NoError(t, f.engine.Content.DeleteContent(ctx, item.Ref(), "u1"))
	total, _ := f.engine.FeedPool.Stats()
	assert.Zero(t, total)
}

func TestContent_PresignUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Content.PresignUpload(ctx, "u1", &model.PresignUploadRequest{ContentType: "image/jpeg", FileSize: 1024})
	require.NoError(t, err)
	assert.NotEmpty(t, res.UploadURL)
	assert.Equal(t, []string{"media/u1"}, f.media.presignArgs)

	_, err = f.engine.Content.PresignUpload(ctx, "u1", &model.PresignUploadRequest{ContentType: "image/jpeg", FileSize: model.MaxMediaSizeBytes + 1})
	assert.ErrorIs(t, err, model.ErrFileTooLarge)

	_, err = f.engine.Content.PresignUpload(ctx, "u1", &model.PresignUploadRequest{ContentType: "text/plain"})
	assert.ErrorIs(t, err, model.ErrInvalidMediaType)
}
