package repository

import (
	"context"
	"errors"
	"fmt"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

type userRepository struct {
	gw gateway.Gateway
}

func NewUserRepository(gw gateway.Gateway) UserRepository {
	return &userRepository{gw: gw}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	doc, err := r.gw.Get(ctx, collUsers, id)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return decodeUser(doc)
}

// Upsert writes the profile fields. Counters are only written when the
// document is new, so an existing projection is never overwritten.
func (r *userRepository) Upsert(ctx context.Context, u *model.User) error {
	fields := map[string]any{
		fieldUsername:    u.Username,
		fieldDisplayName: u.DisplayName,
		fieldAvatarURL:   u.AvatarURL,
		fieldBio:         u.Bio,
		fieldIsPrivate:   u.IsPrivate,
	}

	err := r.gw.Update(ctx, collUsers, u.ID, fields)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("failed to update user: %w", err)
	}

	fields[fieldFollowersCount] = u.FollowersCount
	fields[fieldFollowingCount] = u.FollowingCount
	fields[fieldPostsCount] = u.PostsCount
	fields[fieldReelsCount] = u.ReelsCount
	fields[fieldCreatedAt] = gateway.Millis(u.CreatedAt)
	if err := r.gw.Set(ctx, collUsers, u.ID, fields); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) IncrementFollowersCount(b gateway.Batch, userID string, delta int64) {
	b.Increment(collUsers, userID, fieldFollowersCount, delta)
}

func (r *userRepository) IncrementFollowingCount(b gateway.Batch, userID string, delta int64) {
	b.Increment(collUsers, userID, fieldFollowingCount, delta)
}

func (r *userRepository) IncrementContentCount(b gateway.Batch, userID string, kind model.ContentKind, delta int64) {
	if field := kind.CounterField(); field != "" {
		b.Increment(collUsers, userID, field, delta)
	}
}

func decodeUser(doc gateway.Document) (*model.User, error) {
	username, err := requireString(doc, fieldUsername)
	if err != nil {
		return nil, err
	}

	u := &model.User{ID: doc.ID, Username: username}
	u.DisplayName, _ = gateway.String(doc.Fields, fieldDisplayName)
	u.AvatarURL, _ = gateway.String(doc.Fields, fieldAvatarURL)
	u.Bio, _ = gateway.String(doc.Fields, fieldBio)
	u.IsPrivate = gateway.Bool(doc.Fields, fieldIsPrivate)
	u.CreatedAt, _ = gateway.Time(doc.Fields, fieldCreatedAt)

	_, hasFollowers := gateway.Int64(doc.Fields, fieldFollowersCount)
	_, hasFollowing := gateway.Int64(doc.Fields, fieldFollowingCount)
	u.HasCounters = hasFollowers && hasFollowing
	u.FollowersCount = count(doc.Fields, fieldFollowersCount)
	u.FollowingCount = count(doc.Fields, fieldFollowingCount)
	u.PostsCount = count(doc.Fields, fieldPostsCount)
	u.ReelsCount = count(doc.Fields, fieldReelsCount)
	return u, nil
}
