package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/media"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/repository"
)

// UserService maintains the engine's projection of user profiles. Accounts
// and credentials are owned by the external auth provider.
type UserService struct {
	repo   repository.UserRepository
	cache  *cache.Cache
	media  media.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewUserService(repo repository.UserRepository, c *cache.Cache, store media.Store, logger *zap.Logger) *UserService {
	return &UserService{
		repo:   repo,
		cache:  c,
		media:  store,
		logger: logger.Named("user"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, model.ErrUserIDRequired
	}
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile creates or updates the caller's profile fields. Counters of
// an existing document are left alone.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *model.UpdateProfileRequest) (*model.User, error) {
	if userID == "" {
		return nil, model.ErrUserIDRequired
	}
	if strings.TrimSpace(req.Username) == "" {
		return nil, model.ErrUsernameRequired
	}
	if utf8.RuneCountInString(req.Bio) > model.MaxBioLength {
		return nil, model.ErrBioTooLong
	}

	user := &model.User{
		ID:          userID,
		Username:    strings.TrimSpace(req.Username),
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Bio:         req.Bio,
		IsPrivate:   req.IsPrivate,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Upsert(ctx, user); err != nil {
		s.logger.Warn("Update profile FAILED", zap.String("user", userID), zap.Error(err))
		return nil, err
	}

	s.invalidate(userID)
	s.logger.Info("Update profile OK", zap.String("user", userID))

	updated, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}
	return updated, nil
}

// UploadAvatar normalizes the image to a square JPEG, stores it and points
// the profile at it.
func (s *UserService) UploadAvatar(ctx context.Context, userID string, r io.Reader, contentType string) (*model.User, error) {
	if s.media == nil {
		return nil, model.ErrMediaNotConfigured
	}
	if userID == "" {
		return nil, model.ErrUserIDRequired
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := media.ReadImage(r, contentType, model.MaxAvatarSizeBytes)
	if err != nil {
		return nil, err
	}
	jpegBytes, err := media.SquareJPEG(data, model.AvatarSize, model.AvatarQuality)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%s.jpg", model.AvatarFolder, userID, s.newID())
	url, err := s.media.Put(ctx, key, jpegBytes, model.ContentTypeJPEG, model.AvatarCacheControl)
	if err != nil {
		s.logger.Warn("Upload avatar FAILED", zap.String("user", userID), zap.Error(err))
		return nil, err
	}

	user.AvatarURL = url
	if err := s.repo.Upsert(ctx, user); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	s.logger.Info("Upload avatar OK", zap.String("user", userID), zap.String("key", key))
	return user, nil
}

// invalidate drops the user document and every profile view of it.
func (s *UserService) invalidate(userID string) {
	s.cache.Invalidate(cache.UserKey(userID))
	s.cache.InvalidateByPrefix(cache.ProfileKey(userID, ""))
}
