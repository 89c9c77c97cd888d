package repository

import (
	"context"
	"errors"
	"fmt"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

type contentRepository struct {
	gw gateway.Gateway
}

func NewContentRepository(gw gateway.Gateway) ContentRepository {
	return &contentRepository{gw: gw}
}

func (r *contentRepository) Create(b gateway.Batch, item *model.ContentItem) {
	b.Create(item.Kind.Collection(), item.ID, map[string]any{
		fieldAuthorID:      item.AuthorID,
		fieldCaption:       item.Caption,
		fieldMediaURLs:     toAny(item.MediaURLs),
		fieldMediaKeys:     toAny(item.MediaKeys),
		fieldLikesCount:    int64(0),
		fieldSavesCount:    int64(0),
		fieldCommentsCount: int64(0),
		fieldCreatedAt:     gateway.Millis(item.CreatedAt),
	})
}

func (r *contentRepository) Delete(b gateway.Batch, ref model.ContentRef) {
	b.DeleteExisting(ref.Collection(), ref.ID)
}

func (r *contentRepository) GetByID(ctx context.Context, ref model.ContentRef) (*model.ContentItem, error) {
	doc, err := r.gw.Get(ctx, ref.Collection(), ref.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, model.ErrContentGone
		}
		return nil, fmt.Errorf("failed to get %s: %w", ref.Kind, err)
	}
	return decodeContent(ref.Kind, doc)
}

func (r *contentRepository) ListByAuthor(ctx context.Context, kind model.ContentKind, authorID, cursor string, limit int) ([]model.ContentItem, error) {
	return r.list(ctx, gateway.Query{
		Collection: kind.Collection(),
		Filters:    []gateway.Filter{{Field: fieldAuthorID, Op: gateway.OpEqual, Value: authorID}},
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
		Limit:      limit,
		Cursor:     cursor,
	}, kind)
}

func (r *contentRepository) ListLatest(ctx context.Context, kind model.ContentKind, cursor string, limit int) ([]model.ContentItem, error) {
	return r.list(ctx, gateway.Query{
		Collection: kind.Collection(),
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
		Limit:      limit,
		Cursor:     cursor,
	}, kind)
}

func (r *contentRepository) ListIDs(ctx context.Context, kind model.ContentKind) ([]string, error) {
	page, err := r.gw.Query(ctx, gateway.Query{
		Collection: kind.Collection(),
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
		IDsOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", kind, err)
	}

	ids := make([]string, 0, len(page.Items))
	for _, doc := range page.Items {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func (r *contentRepository) ListScoredIDs(ctx context.Context, kind model.ContentKind) ([]cache.ScoredID, error) {
	page, err := r.gw.Query(ctx, gateway.Query{
		Collection: kind.Collection(),
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", kind, err)
	}

	ids := make([]cache.ScoredID, 0, len(page.Items))
	for _, doc := range page.Items {
		createdAt, _ := gateway.Int64(doc.Fields, fieldCreatedAt)
		ids = append(ids, cache.ScoredID{ID: doc.ID, CreatedAt: createdAt})
	}
	return ids, nil
}

func (r *contentRepository) IncrementCommentCount(b gateway.Batch, parent model.ContentRef, delta int64) {
	b.Increment(parent.Collection(), parent.ID, fieldCommentsCount, delta)
}

func (r *contentRepository) DeleteChildren(ctx context.Context, ref model.ContentRef) error {
	for _, kind := range []model.EngagementKind{model.EngagementLike, model.EngagementSave} {
		if err := clearCollection(ctx, r.gw, joinPath(ref, kind), nil); err != nil {
			return err
		}
	}
	if ref.Kind == model.KindComment {
		return nil
	}

	comments := gateway.Path(ref.Path(), collComments)
	return clearCollection(ctx, r.gw, comments, func(commentID string) error {
		commentRef := model.ContentRef{Kind: model.KindComment, ID: commentID, ParentKind: ref.Kind, ParentID: ref.ID}
		return clearCollection(ctx, r.gw, joinPath(commentRef, model.EngagementLike), nil)
	})
}

func (r *contentRepository) list(ctx context.Context, q gateway.Query, kind model.ContentKind) ([]model.ContentItem, error) {
	page, err := r.gw.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Collection, err)
	}

	items := make([]model.ContentItem, 0, len(page.Items))
	for _, doc := range page.Items {
		item, err := decodeContent(kind, doc)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func decodeContent(kind model.ContentKind, doc gateway.Document) (*model.ContentItem, error) {
	author, err := requireString(doc, fieldAuthorID)
	if err != nil {
		return nil, err
	}

	item := &model.ContentItem{
		ID:            doc.ID,
		Kind:          kind,
		AuthorID:      author,
		MediaURLs:     gateway.Strings(doc.Fields, fieldMediaURLs),
		MediaKeys:     gateway.Strings(doc.Fields, fieldMediaKeys),
		LikesCount:    count(doc.Fields, fieldLikesCount),
		SavesCount:    count(doc.Fields, fieldSavesCount),
		CommentsCount: count(doc.Fields, fieldCommentsCount),
	}
	item.Caption, _ = gateway.String(doc.Fields, fieldCaption)
	item.CreatedAt, _ = gateway.Time(doc.Fields, fieldCreatedAt)
	return item, nil
}
