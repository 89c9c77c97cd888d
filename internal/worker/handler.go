package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
)

// GraphInvalidator drops cached values derived from one follow edge.
type GraphInvalidator interface {
	InvalidateEdge(followerID, followedID string)
}

// EngagementObserver applies an engagement state confirmed elsewhere.
type EngagementObserver interface {
	ObserveRemote(state model.EngagementState)
}

// ContentObserver applies content created or deleted elsewhere.
type ContentObserver interface {
	ObserveCreated(ref model.ContentRef, authorID string)
	ForgetContent(ctx context.Context, ref model.ContentRef, authorID string)
}

// Handler applies change events published by other sessions to this
// session's caches. Events stamped with this session's origin are skipped.
type Handler struct {
	origin     string
	graph      GraphInvalidator
	engagement EngagementObserver
	content    ContentObserver
	logger     *zap.Logger
}

func NewHandler(origin string, graph GraphInvalidator, engagement EngagementObserver, content ContentObserver, logger *zap.Logger) *Handler {
	return &Handler{
		origin:     origin,
		graph:      graph,
		engagement: engagement,
		content:    content,
		logger:     logger.Named("worker"),
	}
}

// HandleEvent routes an event to the appropriate handler based on type.
func (h *Handler) HandleEvent(ctx context.Context, event queue.ChangeEvent) error {
	if event.Origin != "" && event.Origin == h.origin {
		return nil
	}

	startTime := time.Now()
	var err error

	switch event.Type {
	case queue.EventUserFollowed, queue.EventUserUnfollowed:
		err = h.handleFollowChanged(event)
	case queue.EventEngagementToggled:
		err = h.handleEngagementToggled(event)
	case queue.EventContentCreated:
		err = h.handleContentCreated(event)
	case queue.EventContentDeleted:
		err = h.handleContentDeleted(ctx, event)
	default:
		h.logger.Warn("Unknown event type", zap.String("type", event.Type))
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		h.logger.Warn("HandleEvent FAILED",
			zap.String("type", event.Type),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		return err
	}

	h.logger.Debug("HandleEvent OK", zap.String("type", event.Type), zap.Duration("duration", time.Since(startTime)))
	return nil
}

func (h *Handler) handleFollowChanged(event queue.ChangeEvent) error {
	if event.FollowerID == "" || event.FollowedID == "" {
		return fmt.Errorf("%s: missing user ids", event.Type)
	}
	h.graph.InvalidateEdge(event.FollowerID, event.FollowedID)
	return nil
}

func (h *Handler) handleEngagementToggled(event queue.ChangeEvent) error {
	if err := event.Ref.Validate(); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	h.engagement.ObserveRemote(model.EngagementState{
		Ref:      event.Ref,
		UserID:   event.UserID,
		Kind:     event.EngagementKind,
		IsActive: event.IsActive,
		Count:    event.Count,
		Phase:    model.PhaseConfirmed,
	})
	return nil
}

func (h *Handler) handleContentCreated(event queue.ChangeEvent) error {
	if err := event.Ref.Validate(); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	h.content.ObserveCreated(event.Ref, event.AuthorID)
	return nil
}

func (h *Handler) handleContentDeleted(ctx context.Context, event queue.ChangeEvent) error {
	if err := event.Ref.Validate(); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	h.content.ForgetContent(ctx, event.Ref, event.AuthorID)
	return nil
}
