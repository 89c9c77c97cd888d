package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

// Join records live at {content path}/{likes|saves}/{userId}.
type engagementRepository struct {
	gw gateway.Gateway
}

func NewEngagementRepository(gw gateway.Gateway) EngagementRepository {
	return &engagementRepository{gw: gw}
}

func joinPath(ref model.ContentRef, kind model.EngagementKind) string {
	return gateway.Path(ref.Path(), kind.Subcollection())
}

func (r *engagementRepository) Exists(ctx context.Context, ref model.ContentRef, userID string, kind model.EngagementKind) (bool, error) {
	_, err := r.gw.Get(ctx, joinPath(ref, kind), userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gateway.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", kind, err)
}

func (r *engagementRepository) Create(b gateway.Batch, ref model.ContentRef, userID string, kind model.EngagementKind, at time.Time) {
	b.Create(joinPath(ref, kind), userID, map[string]any{
		fieldUserID:    userID,
		fieldCreatedAt: gateway.Millis(at),
	})
	b.Increment(ref.Collection(), ref.ID, kind.CounterField(), 1)
}

func (r *engagementRepository) Delete(b gateway.Batch, ref model.ContentRef, userID string, kind model.EngagementKind) {
	b.DeleteExisting(joinPath(ref, kind), userID)
	b.Increment(ref.Collection(), ref.ID, kind.CounterField(), -1)
}

func (r *engagementRepository) Count(ctx context.Context, ref model.ContentRef, kind model.EngagementKind) (int64, error) {
	doc, err := r.gw.Get(ctx, ref.Collection(), ref.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return 0, model.ErrContentGone
		}
		return 0, fmt.Errorf("failed to read %s count: %w", kind, err)
	}
	return count(doc.Fields, kind.CounterField()), nil
}

func (r *engagementRepository) ListUserIDs(ctx context.Context, ref model.ContentRef, kind model.EngagementKind, cursor string, limit int) ([]string, error) {
	page, err := r.gw.Query(ctx, gateway.Query{
		Collection: joinPath(ref, kind),
		OrderBy:    fieldCreatedAt,
		Direction:  gateway.Descending,
		Limit:      limit,
		Cursor:     cursor,
		IDsOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind.Subcollection(), err)
	}

	ids := make([]string, 0, len(page.Items))
	for _, doc := range page.Items {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}
