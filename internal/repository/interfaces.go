package repository

import (
	"context"
	"time"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

// Write methods take a gateway.Batch so services can group an edge or join
// record with its counter deltas and commit them atomically.

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	Upsert(ctx context.Context, user *model.User) error
	IncrementFollowersCount(b gateway.Batch, userID string, delta int64)
	IncrementFollowingCount(b gateway.Batch, userID string, delta int64)
	IncrementContentCount(b gateway.Batch, userID string, kind model.ContentKind, delta int64)
}

type FollowRepository interface {
	// Create queues both edge records with a must-not-exist precondition.
	Create(b gateway.Batch, followerID, followedID string, at time.Time)
	// Delete queues removal of both edge records with a must-exist precondition.
	Delete(b gateway.Batch, followerID, followedID string)
	Exists(ctx context.Context, followerID, followedID string) (bool, error)
	CountFollowers(ctx context.Context, userID string) (int64, error)
	CountFollowing(ctx context.Context, userID string) (int64, error)
	ListFollowers(ctx context.Context, userID, cursor string, limit int) ([]model.FollowEdge, error)
	ListFollowing(ctx context.Context, userID, cursor string, limit int) ([]model.FollowEdge, error)
}

type EngagementRepository interface {
	Exists(ctx context.Context, ref model.ContentRef, userID string, kind model.EngagementKind) (bool, error)
	// Create queues the join record (must not exist) and a +1 on the counter.
	Create(b gateway.Batch, ref model.ContentRef, userID string, kind model.EngagementKind, at time.Time)
	// Delete queues removal of the join record (must exist) and a -1 on the counter.
	Delete(b gateway.Batch, ref model.ContentRef, userID string, kind model.EngagementKind)
	// Count reads the denormalized counter from the content document.
	Count(ctx context.Context, ref model.ContentRef, kind model.EngagementKind) (int64, error)
	ListUserIDs(ctx context.Context, ref model.ContentRef, kind model.EngagementKind, cursor string, limit int) ([]string, error)
}

type ContentRepository interface {
	Create(b gateway.Batch, item *model.ContentItem)
	Delete(b gateway.Batch, ref model.ContentRef)
	GetByID(ctx context.Context, ref model.ContentRef) (*model.ContentItem, error)
	ListByAuthor(ctx context.Context, kind model.ContentKind, authorID, cursor string, limit int) ([]model.ContentItem, error)
	ListLatest(ctx context.Context, kind model.ContentKind, cursor string, limit int) ([]model.ContentItem, error)
	// ListIDs returns every ID of the kind, newest first, without payloads.
	ListIDs(ctx context.Context, kind model.ContentKind) ([]string, error)
	// ListScoredIDs is ListIDs with creation times, used to warm the index.
	ListScoredIDs(ctx context.Context, kind model.ContentKind) ([]cache.ScoredID, error)
	IncrementCommentCount(b gateway.Batch, parent model.ContentRef, delta int64)
	// DeleteChildren removes the likes, saves and comments under ref in chunks.
	DeleteChildren(ctx context.Context, ref model.ContentRef) error
}

type CommentRepository interface {
	Create(b gateway.Batch, c *model.Comment)
	Delete(b gateway.Batch, ref model.ContentRef)
	GetByID(ctx context.Context, ref model.ContentRef) (*model.Comment, error)
	List(ctx context.Context, parent model.ContentRef, cursor string, limit int) ([]model.Comment, error)
}
