package repository

import (
	"context"
	"errors"
	"fmt"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

type commentRepository struct {
	gw gateway.Gateway
}

func NewCommentRepository(gw gateway.Gateway) CommentRepository {
	return &commentRepository{gw: gw}
}

func (r *commentRepository) Create(b gateway.Batch, c *model.Comment) {
	b.Create(c.Ref().Collection(), c.ID, map[string]any{
		fieldAuthorID:   c.AuthorID,
		fieldText:       c.Text,
		fieldLikesCount: int64(0),
		fieldCreatedAt:  gateway.Millis(c.CreatedAt),
	})
}

func (r *commentRepository) Delete(b gateway.Batch, ref model.ContentRef) {
	b.DeleteExisting(ref.Collection(), ref.ID)
}

func (r *commentRepository) GetByID(ctx context.Context, ref model.ContentRef) (*model.Comment, error) {
	doc, err := r.gw.Get(ctx, ref.Collection(), ref.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, model.ErrContentGone
		}
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return decodeComment(ref.Parent(), doc)
}

// List returns comments newest first.
func (r *commentRepository) List(ctx context.Context, parent model.ContentRef, cursor string, limit int) ([]model.Comment, error) {
	page, err := r.gw.Query(ctx, gateway.Query{
		Collection: gateway.Path(parent.Path(), collComments),
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	comments := make([]model.Comment, 0, len(page.Items))
	for _, doc := range page.Items {
		c, err := decodeComment(parent, doc)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	return comments, nil
}

func decodeComment(parent model.ContentRef, doc gateway.Document) (*model.Comment, error) {
	author, err := requireString(doc, fieldAuthorID)
	if err != nil {
		return nil, err
	}

	c := &model.Comment{
		ID:         doc.ID,
		ParentKind: parent.Kind,
		ParentID:   parent.ID,
		AuthorID:   author,
		LikesCount: count(doc.Fields, fieldLikesCount),
	}
	c.Text, _ = gateway.String(doc.Fields, fieldText)
	c.CreatedAt, _ = gateway.Time(doc.Fields, fieldCreatedAt)
	return c, nil
}
