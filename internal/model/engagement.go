package model

import (
	"errors"
	"fmt"
	"strings"
)

type EngagementKind string

const (
	EngagementLike EngagementKind = "like"
	EngagementSave EngagementKind = "save"
)

func ParseEngagementKind(s string) (EngagementKind, error) {
	switch k := EngagementKind(strings.ToLower(s)); k {
	case EngagementLike, EngagementSave:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEngagementKind, s)
}

// Subcollection holds one join record per engaged user.
func (k EngagementKind) Subcollection() string {
	if k == EngagementSave {
		return "saves"
	}
	return "likes"
}

// CounterField is the denormalized counter on the parent content.
func (k EngagementKind) CounterField() string {
	if k == EngagementSave {
		return "savesCount"
	}
	return "likesCount"
}

// Supports reports whether content of the given kind accepts this engagement.
// Comments can be liked but not saved.
func (k EngagementKind) Supports(c ContentKind) bool {
	return k == EngagementLike || c != KindComment
}

// Phase is where a (content, user, kind) key sits in the optimistic toggle
// lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOptimistic
	PhaseReconciling
	PhaseConfirmed
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseOptimistic:
		return "optimistically_applied"
	case PhaseReconciling:
		return "reconciling"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// EngagementState is what the UI renders for one (content, user, kind) key.
type EngagementState struct {
	Ref      ContentRef     `json:"ref"`
	UserID   string         `json:"user_id"`
	Kind     EngagementKind `json:"kind"`
	IsActive bool           `json:"is_active"`
	Count    int64          `json:"count"`
	Phase    Phase          `json:"phase"`
}

// EngagementUpdate is pushed to subscribers on every state transition.
// Error is set on rollback.
type EngagementUpdate struct {
	State EngagementState `json:"state"`
	Error string          `json:"error,omitempty"`
}

var (
	ErrInvalidEngagementKind = errors.New("invalid engagement kind")
	ErrUnsupportedEngagement = errors.New("engagement not supported for this content")
)
