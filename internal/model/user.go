package model

import (
	"errors"
	"time"
)

// User is the subset of the user document the engine reads. Accounts are
// created and authenticated elsewhere.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url"`
	Bio            string    `json:"bio"`
	IsPrivate      bool      `json:"is_private"`
	FollowersCount int64     `json:"followers_count"`
	FollowingCount int64     `json:"following_count"`
	PostsCount     int64     `json:"posts_count"`
	ReelsCount     int64     `json:"reels_count"`
	CreatedAt      time.Time `json:"created_at"`

	// HasCounters is false when the stored document predates the
	// denormalized follow counters.
	HasCounters bool `json:"-"`
}

// Summary is the compact form used in lists and enrichment.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// UpdateProfileRequest is the body of PUT /users/me.
type UpdateProfileRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Bio         string `json:"bio"`
	IsPrivate   bool   `json:"is_private"`
}

// MaxBioLength caps the profile bio in characters.
const MaxBioLength = 150

var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	ErrUserIDRequired   = errors.New("user id is required")
	ErrUsernameRequired = errors.New("username is required")
	ErrBioTooLong       = errors.New("bio too long")
)
