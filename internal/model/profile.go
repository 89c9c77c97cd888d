package model

import "time"

// ProfileView is the composed profile screen. Posts and Reels are empty when
// CanView is false, regardless of what was fetched.
type ProfileView struct {
	User         User          `json:"user"`
	Counts       FollowCounts  `json:"counts"`
	IsFollowing  bool          `json:"is_following"`
	IsOwnProfile bool          `json:"is_own_profile"`
	CanView      bool          `json:"can_view"`
	Posts        []ContentItem `json:"posts"`
	PostsCursor  string        `json:"posts_cursor,omitempty"`
	HasMorePosts bool          `json:"has_more_posts"`
	Reels        []ContentItem `json:"reels"`
	ReelsCursor  string        `json:"reels_cursor,omitempty"`
	HasMoreReels bool          `json:"has_more_reels"`
	LoadedAt     time.Time     `json:"loaded_at"`
}
