package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/model"
)

func TestUserService_UpdateProfileValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		req     model.UpdateProfileRequest
		wantErr error
	}{
		{"missing user id", "", model.UpdateProfileRequest{Username: "a"}, model.ErrUserIDRequired},
		{"blank username", "u1", model.UpdateProfileRequest{Username: "  "}, model.ErrUsernameRequired},
		{"bio too long", "u1", model.UpdateProfileRequest{Username: "a", Bio: strings.Repeat("é", model.MaxBioLength+1)}, model.ErrBioTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Users.UpdateProfile(ctx, tt.userID, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUserService_UpdateProfileKeepsCountersAndRefreshesProfile(t *testing.T) {
	// ARRANGE
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 7, 3, false)
	_, err := f.engine.Profiles.LoadProfile(ctx, "u1", "viewer")
	require.NoError(t, err)

	// ACT
	user, err := f.engine.Users.UpdateProfile(ctx, "u1", &model.UpdateProfileRequest{Username: "renamed", IsPrivate: true})

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, "renamed", user.Username)
	assert.Equal(t, int64(7), user.FollowersCount)

	view, err := f.engine.Profiles.LoadProfile(ctx, "u1", "viewer")
	require.NoError(t, err)
	assert.Equal(t, "renamed", view.User.Username)
	assert.False(t, view.CanView)
}

func TestUserService_UpdateProfileCreatesMissingUser(t *testing.T) {
	f := newFixture(t)

	user, err := f.engine.Users.UpdateProfile(context.Background(), "fresh", &model.UpdateProfileRequest{Username: "fresh"})

	require.NoError(t, err)
	assert.Equal(t, "fresh", user.ID)
	assert.Zero(t, user.FollowersCount)
}

func avatarPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 64, 32))))
	return buf.Bytes()
}

func TestUserService_UploadAvatar(t *testing.T) {
	// ARRANGE
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 0, 0, false)

	// ACT
	user, err := f.engine.Users.UploadAvatar(ctx, "u1", bytes.NewReader(avatarPNG(t)), model.ContentTypePNG)

	// ASSERT
	require.NoError(t, err)
	require.Len(t, f.media.put, 1)
	for key := range f.media.put {
		assert.True(t, strings.HasPrefix(key, "avatars/u1/"))
		assert.True(t, strings.HasSuffix(key, ".jpg"))
		assert.Equal(t, "https://cdn/"+key, user.AvatarURL)
	}

	summary, err := f.engine.Loader.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, user.AvatarURL, summary.AvatarURL)
}

func TestUserService_UploadAvatarFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Users.UploadAvatar(ctx, "ghost", bytes.NewReader(avatarPNG(t)), "")
		assert.ErrorIs(t, err, model.ErrUserNotFound)
	})

	t.Run("not an image", func(t *testing.T) {
		f := newFixture(t)
		f.seedUser(t, "u1", 0, 0, false)
		_, err := f.engine.Users.UploadAvatar(ctx, "u1", strings.NewReader("hello"), "")
		assert.ErrorIs(t, err, model.ErrInvalidMediaType)
		assert.Empty(t, f.media.put)
	})

	t.Run("upload fails", func(t *testing.T) {
		f := newFixture(t)
		f.seedUser(t, "u1", 0, 0, false)
		f.media.putFn = func(string, []byte) error { return errors.New("bucket down") }

		_, err := f.engine.Users.UploadAvatar(ctx, "u1", bytes.NewReader(avatarPNG(t)), "")

		require.Error(t, err)
		user, err := f.engine.Users.GetByID(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, user.AvatarURL)
	})

	t.Run("media not configured", func(t *testing.T) {
		f := newFixture(t)
		engine := NewEngine(Deps{Gateway: f.gw}, testOptions(f.clock))
		_, err := engine.Users.UploadAvatar(ctx, "u1", bytes.NewReader(avatarPNG(t)), "")
		assert.ErrorIs(t, err, model.ErrMediaNotConfigured)
	})
}
