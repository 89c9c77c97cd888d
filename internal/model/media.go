package model

import "errors"

const (
	MaxMediaSizeBytes = 50 * 1024 * 1024           // Reels carry video
	MediaCacheControl = "public, max-age=31536000" // 1 year
	PresignExpirySecs = 900
)

// Avatars are normalized to a square JPEG before upload.
const (
	AvatarSize         = 320
	AvatarQuality      = 85
	AvatarFolder       = "avatars"
	MaxAvatarSizeBytes = 5 * 1024 * 1024
	AvatarCacheControl = "public, max-age=86400"
)

// Supported upload content types
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeWebP = "image/webp"
	ContentTypeMP4  = "video/mp4"
	ContentTypeMOV  = "video/quicktime"
)

var allowedMediaTypes = map[string]string{
	ContentTypeJPEG: ".jpg",
	ContentTypePNG:  ".png",
	ContentTypeWebP: ".webp",
	ContentTypeMP4:  ".mp4",
	ContentTypeMOV:  ".mov",
}

// Error codes for HTTP responses
const (
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInvalidMediaType = "INVALID_MEDIA_TYPE"
)

var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrInvalidMediaType   = errors.New("invalid media type")
	ErrMediaNotConfigured = errors.New("media storage is not configured")
)

// PresignUploadRequest requests a presigned URL for uploading media directly
// to the bucket. The client then passes Key and PublicURL to content creation.
type PresignUploadRequest struct {
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

type PresignUploadResponse struct {
	UploadURL  string `json:"upload_url"`
	PublicURL  string `json:"public_url"`
	Key        string `json:"key"`
	ExpiresInS int    `json:"expires_in"`
}

// IsImageType reports whether contentType is an accepted still image.
func IsImageType(contentType string) bool {
	switch contentType {
	case ContentTypeJPEG, ContentTypePNG, ContentTypeWebP:
		return true
	}
	return false
}

// MediaExtension returns the object key extension for a supported content type.
func MediaExtension(contentType string) (string, bool) {
	ext, ok := allowedMediaTypes[contentType]
	return ext, ok
}
