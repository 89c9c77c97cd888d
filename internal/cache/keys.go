package cache

import (
	"strconv"
	"strings"

	"iamstagram_engine/internal/model"
)

// Keys are colon-separated; the first segment names the key family.
const (
	FamilyProfile    = "profile"
	FamilyCounts     = "counts"
	FamilyPage       = "page"
	FamilyUser       = "user"
	FamilyEngagement = "engagement"
	FamilyContent    = "content"
)

func ProfileKey(profileUserID, viewerID string) string {
	return FamilyProfile + ":" + profileUserID + ":" + viewerID
}

func CountsKey(userID string) string {
	return FamilyCounts + ":" + userID
}

func UserKey(userID string) string {
	return FamilyUser + ":" + userID
}

func ContentKey(ref model.ContentRef) string {
	return FamilyContent + ":" + ref.Path()
}

// PageKey identifies one loaded page: list kind, owner, cursor and size.
func PageKey(list, owner, cursor string, size int) string {
	return FamilyPage + ":" + list + ":" + owner + ":" + cursor + ":" + strconv.Itoa(size)
}

// PagePrefix matches every cached page of one list for one owner.
func PagePrefix(list, owner string) string {
	return FamilyPage + ":" + list + ":" + owner + ":"
}

func EngagementKey(ref model.ContentRef, userID string, kind model.EngagementKind) string {
	return FamilyEngagement + ":" + string(kind) + ":" + ref.Path() + ":" + userID
}

// MentionsSegment reports whether any colon-separated segment of key equals seg.
func MentionsSegment(key, seg string) bool {
	for _, part := range strings.Split(key, ":") {
		if part == seg {
			return true
		}
	}
	return false
}

func family(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
