package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

// Edges are stored twice: users/{follower}/following/{followed} and
// users/{followed}/followers/{follower}. Both copies carry the same payload.
type followRepository struct {
	gw gateway.Gateway
}

func NewFollowRepository(gw gateway.Gateway) FollowRepository {
	return &followRepository{gw: gw}
}

func followingPath(userID string) string {
	return gateway.Path(collUsers, userID, collFollowing)
}

func followersPath(userID string) string {
	return gateway.Path(collUsers, userID, collFollowers)
}

func (r *followRepository) Create(b gateway.Batch, followerID, followedID string, at time.Time) {
	edge := map[string]any{
		fieldFollowerID: followerID,
		fieldFollowedID: followedID,
		fieldCreatedAt:  gateway.Millis(at),
	}
	b.Create(followingPath(followerID), followedID, edge)
	b.Create(followersPath(followedID), followerID, edge)
}

func (r *followRepository) Delete(b gateway.Batch, followerID, followedID string) {
	b.DeleteExisting(followingPath(followerID), followedID)
	b.DeleteExisting(followersPath(followedID), followerID)
}

func (r *followRepository) Exists(ctx context.Context, followerID, followedID string) (bool, error) {
	_, err := r.gw.Get(ctx, followingPath(followerID), followedID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gateway.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check follow existence: %w", err)
}

func (r *followRepository) CountFollowers(ctx context.Context, userID string) (int64, error) {
	n, err := r.gw.Count(ctx, followersPath(userID), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count followers: %w", err)
	}
	return n, nil
}

func (r *followRepository) CountFollowing(ctx context.Context, userID string) (int64, error) {
	n, err := r.gw.Count(ctx, followingPath(userID), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count following: %w", err)
	}
	return n, nil
}

// ListFollowers returns edges newest first. cursor is the follower ID of the
// last edge of the previous page.
func (r *followRepository) ListFollowers(ctx context.Context, userID, cursor string, limit int) ([]model.FollowEdge, error) {
	return r.list(ctx, followersPath(userID), cursor, limit)
}

func (r *followRepository) ListFollowing(ctx context.Context, userID, cursor string, limit int) ([]model.FollowEdge, error) {
	return r.list(ctx, followingPath(userID), cursor, limit)
}

func (r *followRepository) list(ctx context.Context, collection, cursor string, limit int) ([]model.FollowEdge, error) {
	page, err := r.gw.Query(ctx, gateway.Query{
		Collection: collection,
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	edges := make([]model.FollowEdge, 0, len(page.Items))
	for _, doc := range page.Items {
		edge, err := decodeEdge(doc)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func decodeEdge(doc gateway.Document) (model.FollowEdge, error) {
	follower, err := requireString(doc, fieldFollowerID)
	if err != nil {
		return model.FollowEdge{}, err
	}
	followed, err := requireString(doc, fieldFollowedID)
	if err != nil {
		return model.FollowEdge{}, err
	}
	createdAt, _ := gateway.Time(doc.Fields, fieldCreatedAt)
	return model.FollowEdge{FollowerID: follower, FollowedID: followed, CreatedAt: createdAt}, nil
}
