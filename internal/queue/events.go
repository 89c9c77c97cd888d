package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"iamstagram_engine/internal/model"
)

// Event types on the change stream
const (
	EventUserFollowed      = "user_followed"
	EventUserUnfollowed    = "user_unfollowed"
	EventEngagementToggled = "engagement_toggled"
	EventContentCreated    = "content_created"
	EventContentDeleted    = "content_deleted"
)

// Stream names
const (
	StreamChanges = "stream:engine:changes"
)

// StreamMaxLen caps the change stream; sessions only care about recent events.
const StreamMaxLen = 10000

// ConsumerGroupPrefix prefixes per-session consumer groups. Every session
// has its own group so each one sees every event.
const ConsumerGroupPrefix = "engine_session:"

// ChangeEvent is one committed change. Origin is the publishing session, so a
// session can skip events it caused itself.
type ChangeEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Origin    string `json:"origin"`

	// Follow events
	FollowerID string `json:"follower_id,omitempty"`
	FollowedID string `json:"followed_id,omitempty"`

	// Content and engagement events
	Ref       model.ContentRef `json:"ref,omitempty"`
	AuthorID  string           `json:"author_id,omitempty"`
	CreatedAt int64            `json:"created_at,omitempty"`

	// Engagement events
	UserID         string               `json:"user_id,omitempty"`
	EngagementKind model.EngagementKind `json:"engagement_kind,omitempty"`
	IsActive       bool                 `json:"is_active,omitempty"`
	Count          int64                `json:"count,omitempty"`
}

func now() int64 {
	return time.Now().UnixMilli()
}

// NewFollowEvent creates a user_followed or user_unfollowed event.
func NewFollowEvent(followed bool, followerID, followedID string) ChangeEvent {
	t := EventUserUnfollowed
	if followed {
		t = EventUserFollowed
	}
	return ChangeEvent{Type: t, Timestamp: now(), FollowerID: followerID, FollowedID: followedID}
}

// NewEngagementEvent carries the server-confirmed state after a toggle.
func NewEngagementEvent(state model.EngagementState) ChangeEvent {
	return ChangeEvent{
		Type:           EventEngagementToggled,
		Timestamp:      now(),
		Ref:            state.Ref,
		UserID:         state.UserID,
		EngagementKind: state.Kind,
		IsActive:       state.IsActive,
		Count:          state.Count,
	}
}

func NewContentCreatedEvent(item *model.ContentItem) ChangeEvent {
	return ChangeEvent{
		Type:      EventContentCreated,
		Timestamp: now(),
		Ref:       item.Ref(),
		AuthorID:  item.AuthorID,
		CreatedAt: item.CreatedAt.UnixMilli(),
	}
}

func NewContentDeletedEvent(ref model.ContentRef, authorID string) ChangeEvent {
	return ChangeEvent{Type: EventContentDeleted, Timestamp: now(), Ref: ref, AuthorID: authorID}
}

// ToMap converts the event to XADD field-value pairs, JSON in a "data" field.
func (e ChangeEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseChangeEvent parses a ChangeEvent from Redis stream message values.
func ParseChangeEvent(values map[string]interface{}) (ChangeEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return ChangeEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event ChangeEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
