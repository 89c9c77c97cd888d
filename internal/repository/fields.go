package repository

import (
	"context"
	"errors"
	"fmt"

	"iamstagram_engine/internal/gateway"
)

// Collection and field names as stored by every gateway backend.
const (
	collUsers     = "users"
	collFollowing = "following"
	collFollowers = "followers"
	collComments  = "comments"

	fieldUsername       = "username"
	fieldDisplayName    = "displayName"
	fieldAvatarURL      = "avatarURL"
	fieldBio            = "bio"
	fieldIsPrivate      = "isPrivate"
	fieldFollowersCount = "followersCount"
	fieldFollowingCount = "followingCount"
	fieldPostsCount     = "postsCount"
	fieldReelsCount     = "reelsCount"
	fieldCreatedAt      = "createdAt"
	fieldFollowerID     = "followerId"
	fieldFollowedID     = "followedId"
	fieldUserID         = "userId"
	fieldAuthorID       = "authorId"
	fieldCaption        = "caption"
	fieldMediaURLs      = "mediaURLs"
	fieldMediaKeys      = "mediaKeys"
	fieldLikesCount     = "likesCount"
	fieldSavesCount     = "savesCount"
	fieldCommentsCount  = "commentsCount"
	fieldText           = "text"
)

// deleteChunk bounds how many documents one cascade batch removes.
const deleteChunk = 200

// ErrMalformedDocument marks a stored document that fails decoding.
var ErrMalformedDocument = errors.New("malformed document")

func requireString(doc gateway.Document, key string) (string, error) {
	s, err := gateway.RequireString(doc, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return s, nil
}

func count(fields map[string]any, key string) int64 {
	n, _ := gateway.Int64(fields, key)
	if n < 0 {
		return 0
	}
	return n
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// clearCollection deletes every document in collection, chunk by chunk.
// onDoc runs before each chunk is committed, so callers can cascade further.
func clearCollection(ctx context.Context, gw gateway.Gateway, collection string, onDoc func(id string) error) error {
	for {
		page, err := gw.Query(ctx, gateway.Query{Collection: collection, Limit: deleteChunk, IDsOnly: true})
		if err != nil {
			return fmt.Errorf("list %s: %w", collection, err)
		}
		if len(page.Items) == 0 {
			return nil
		}

		b := gw.Batch()
		for _, d := range page.Items {
			if onDoc != nil {
				if err := onDoc(d.ID); err != nil {
					return err
				}
			}
			b.Delete(collection, d.ID)
		}
		if err := b.Commit(ctx); err != nil {
			return fmt.Errorf("delete %s: %w", collection, err)
		}
		if len(page.Items) < deleteChunk {
			return nil
		}
	}
}
