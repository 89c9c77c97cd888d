package model

import (
	"errors"
	"time"
)

// Comment lives under its parent post or reel.
type Comment struct {
	ID         string       `json:"id"`
	ParentKind ContentKind  `json:"parent_kind"`
	ParentID   string       `json:"parent_id"`
	AuthorID   string       `json:"author_id"`
	Text       string       `json:"text"`
	LikesCount int64        `json:"likes_count"`
	CreatedAt  time.Time    `json:"created_at"`
	Author     *UserSummary `json:"author,omitempty"` // Joined field
}

func (c *Comment) Ref() ContentRef {
	return ContentRef{Kind: KindComment, ID: c.ID, ParentKind: c.ParentKind, ParentID: c.ParentID}
}

// CreateCommentRequest is the request body for creating a comment.
type CreateCommentRequest struct {
	Text string `json:"text"`
}

const (
	MaxCommentLength = 2200 // Same as caption limit
)

var (
	ErrCommentRequired = errors.New("comment text is required")
	ErrCommentTooLong  = errors.New("comment text too long")
)
