package model

import (
	"errors"
	"time"
)

// FollowEdge is the directed follower -> followed relation. Its existence is
// the only source of truth for "is following".
type FollowEdge struct {
	FollowerID string    `json:"follower_id"`
	FollowedID string    `json:"followed_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CountSource names the tier that answered a follow count lookup.
type CountSource string

const (
	CountSourceCache    CountSource = "cache"
	CountSourceCounters CountSource = "counters"
	CountSourceEdges    CountSource = "edges"
	CountSourceFallback CountSource = "fallback"
)

type FollowCounts struct {
	FollowersCount int64       `json:"followers_count"`
	FollowingCount int64       `json:"following_count"`
	Source         CountSource `json:"source"`
}

// FollowStatus is returned by follow and unfollow. Changed is false when the
// edge was already in the requested state.
type FollowStatus struct {
	IsFollowing bool `json:"is_following"`
	Changed     bool `json:"changed"`
}

var (
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
)
