package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ContentKind string

const (
	KindPost    ContentKind = "post"
	KindReel    ContentKind = "reel"
	KindComment ContentKind = "comment"
)

func ParseContentKind(s string) (ContentKind, error) {
	switch k := ContentKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPost, KindReel, KindComment:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidContentKind, s)
}

// Collection is the top-level collection for posts and reels. Comments are
// nested, so callers resolve them through ContentRef.Collection.
func (k ContentKind) Collection() string {
	switch k {
	case KindPost:
		return "posts"
	case KindReel:
		return "reels"
	case KindComment:
		return "comments"
	}
	return ""
}

// CounterField is the per-user counter bumped when content of this kind is created.
func (k ContentKind) CounterField() string {
	switch k {
	case KindPost:
		return "postsCount"
	case KindReel:
		return "reelsCount"
	}
	return ""
}

// ContentRef addresses a post, reel or comment. Comments carry the kind and
// ID of the post or reel they belong to.
type ContentRef struct {
	Kind       ContentKind `json:"kind"`
	ID         string      `json:"id"`
	ParentKind ContentKind `json:"parent_kind,omitempty"`
	ParentID   string      `json:"parent_id,omitempty"`
}

func (r ContentRef) Validate() error {
	if r.ID == "" {
		return ErrContentIDRequired
	}
	switch r.Kind {
	case KindPost, KindReel:
		return nil
	case KindComment:
		if r.ParentID == "" || (r.ParentKind != KindPost && r.ParentKind != KindReel) {
			return fmt.Errorf("%w: comment needs a post or reel parent", ErrInvalidContentKind)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidContentKind, r.Kind)
}

// Parent returns the ref of the post or reel a comment belongs to.
func (r ContentRef) Parent() ContentRef {
	return ContentRef{Kind: r.ParentKind, ID: r.ParentID}
}

// Collection is the slash path of the collection holding this item.
func (r ContentRef) Collection() string {
	if r.Kind == KindComment {
		return r.ParentKind.Collection() + "/" + r.ParentID + "/comments"
	}
	return r.Kind.Collection()
}

// Path is the full document path, unique across kinds.
func (r ContentRef) Path() string {
	return r.Collection() + "/" + r.ID
}

func (r ContentRef) String() string {
	return r.Path()
}

// ParseParent reads the "kind:id" form used for comment parents.
func ParseParent(s string) (ContentKind, string, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: parent must be kind:id, got %q", ErrInvalidContentKind, s)
	}
	k, err := ParseContentKind(kind)
	if err != nil {
		return "", "", err
	}
	if k == KindComment {
		return "", "", fmt.Errorf("%w: comments cannot be nested", ErrInvalidContentKind)
	}
	return k, id, nil
}

// ContentItem is a post or reel. Only AuthorID may delete it; everyone else
// only touches the likes, saves and comments that reference it.
type ContentItem struct {
	ID            string       `json:"id"`
	Kind          ContentKind  `json:"kind"`
	AuthorID      string       `json:"author_id"`
	Caption       string       `json:"caption"`
	MediaURLs     []string     `json:"media_urls"`
	MediaKeys     []string     `json:"-"`
	LikesCount    int64        `json:"likes_count"`
	SavesCount    int64        `json:"saves_count"`
	CommentsCount int64        `json:"comments_count"`
	CreatedAt     time.Time    `json:"created_at"`
	Author        *UserSummary `json:"author,omitempty"`
}

func (c *ContentItem) Ref() ContentRef {
	return ContentRef{Kind: c.Kind, ID: c.ID}
}

// CreateContentRequest is the request body for creating a post or reel.
// MediaKeys are the object keys returned by the presign call, kept so the
// media can be deleted together with the content.
type CreateContentRequest struct {
	Caption   string   `json:"caption"`
	MediaURLs []string `json:"media_urls"`
	MediaKeys []string `json:"media_keys"`
}

// FeedBatch is one delivery from the randomized feed pool. HasMore stays
// true while the corpus is non-empty; Fresh is false once this batch used
// up the current shuffle, so the next one starts a new cycle.
type FeedBatch struct {
	Items   []ContentItem `json:"items"`
	HasMore bool          `json:"has_more"`
	Fresh   bool          `json:"fresh"`
}

const (
	MaxMediaCount    = 10
	MaxCaptionLength = 2200
)

var (
	// ErrContentGone is returned when the content was deleted, possibly by
	// another session, so callers can drop it instead of retrying.
	ErrContentGone = errors.New("content no longer exists")

	ErrNotContentOwner    = errors.New("not the owner of this content")
	ErrInvalidContentKind = errors.New("invalid content kind")
	ErrContentIDRequired  = errors.New("content id is required")
	ErrNoMediaProvided    = errors.New("at least one media is required")
	ErrTooManyMedia       = errors.New("too many media items")
	ErrCaptionTooLong     = errors.New("caption too long")
)
