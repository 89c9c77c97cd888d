package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/media"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
	"iamstagram_engine/internal/repository"
)

// ContentService creates and deletes posts, reels and comments. Deletion
// cascades to engagement records, comments and stored media.
type ContentService struct {
	content  repository.ContentRepository
	comments repository.CommentRepository
	users    repository.UserRepository
	store    batcher

	engagement *EngagementManager
	loader     *Loader
	pool       *FeedPool
	index      cache.ContentIndex
	media      media.Store
	cache      *cache.Cache

	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// ContentDeps groups the optional collaborators. Pool, Index, Media and
// Publisher may be nil.
type ContentDeps struct {
	Engagement *EngagementManager
	Loader     *Loader
	Pool       *FeedPool
	Index      cache.ContentIndex
	Media      media.Store
	Publisher  queue.Publisher
}

func NewContentService(
	content repository.ContentRepository,
	comments repository.CommentRepository,
	users repository.UserRepository,
	store batcher,
	c *cache.Cache,
	deps ContentDeps,
	logger *zap.Logger,
) *ContentService {
	return &ContentService{
		content:    content,
		comments:   comments,
		users:      users,
		store:      store,
		engagement: deps.Engagement,
		loader:     deps.Loader,
		pool:       deps.Pool,
		index:      deps.Index,
		media:      deps.Media,
		cache:      c,
		publisher:  deps.Publisher,
		logger:     logger.Named("content"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func validateCreate(kind model.ContentKind, req *model.CreateContentRequest) error {
	if kind != model.KindPost && kind != model.KindReel {
		return fmt.Errorf("%w: %q", model.ErrInvalidContentKind, kind)
	}
	if len(req.MediaURLs) == 0 {
		return model.ErrNoMediaProvided
	}
	if len(req.MediaURLs) > model.MaxMediaCount {
		return model.ErrTooManyMedia
	}
	if utf8.RuneCountInString(req.Caption) > model.MaxCaptionLength {
		return model.ErrCaptionTooLong
	}
	return nil
}

// CreateContent writes the item and bumps the author's post or reel
// counter in one batch.
func (s *ContentService) CreateContent(ctx context.Context, authorID string, kind model.ContentKind, req *model.CreateContentRequest) (*model.ContentItem, error) {
	if authorID == "" {
		return nil, model.ErrUserIDRequired
	}
	if err := validateCreate(kind, req); err != nil {
		return nil, err
	}

	item := &model.ContentItem{
		ID:        s.newID(),
		Kind:      kind,
		AuthorID:  authorID,
		Caption:   req.Caption,
		MediaURLs: req.MediaURLs,
		MediaKeys: req.MediaKeys,
		CreatedAt: s.now().Truncate(time.Millisecond),
	}

	b := s.store.Batch()
	s.content.Create(b, item)
	s.users.IncrementContentCount(b, authorID, kind, 1)
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, model.ErrUserNotFound
		}
		s.logger.Warn("Create content FAILED", zap.String("kind", string(kind)), zap.String("author", authorID), zap.Error(err))
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}

	s.invalidateAuthor(kind, authorID)
	if s.index != nil {
		if err := s.index.Add(ctx, kind, item.ID, item.CreatedAt.UnixMilli()); err != nil {
			s.logger.Warn("Index add failed", zap.String("id", item.ID), zap.Error(err))
		}
	}
	if s.pool != nil && s.pool.Kind() == kind {
		s.pool.Add(item.ID)
	}

	s.logger.Info("Create content OK", zap.String("kind", string(kind)), zap.String("id", item.ID), zap.String("author", authorID))
	publish(ctx, s.publisher, s.logger, queue.NewContentCreatedEvent(item))
	return item, nil
}

// DeleteContent removes a post or reel owned by requesterID, then its
// children and media. Cleanup after the main delete is best effort.
func (s *ContentService) DeleteContent(ctx context.Context, ref model.ContentRef, requesterID string) error {
	if ref.Kind == model.KindComment {
		return s.DeleteComment(ctx, ref, requesterID)
	}
	if err := ref.Validate(); err != nil {
		return err
	}

	item, err := s.content.GetByID(ctx, ref)
	if err != nil {
		return err
	}
	if item.AuthorID != requesterID {
		return model.ErrNotContentOwner
	}

	b := s.store.Batch()
	s.content.Delete(b, ref)
	s.users.IncrementContentCount(b, item.AuthorID, ref.Kind, -1)
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return model.ErrContentGone
		}
		s.logger.Warn("Delete content FAILED", zap.String("ref", ref.String()), zap.Error(err))
		return fmt.Errorf("delete %s: %w", ref.Kind, err)
	}

	if err := s.content.DeleteChildren(ctx, ref); err != nil {
		s.logger.Warn("Cascade delete incomplete", zap.String("ref", ref.String()), zap.Error(err))
	}
	if err := s.deleteMedia(ctx, item.MediaKeys); err != nil {
		s.logger.Warn("Media delete incomplete", zap.String("ref", ref.String()), zap.Error(err))
	}

	s.ForgetContent(ctx, ref, item.AuthorID)
	s.logger.Info("Delete content OK", zap.String("ref", ref.String()))
	publish(ctx, s.publisher, s.logger, queue.NewContentDeletedEvent(ref, item.AuthorID))
	return nil
}

// ForgetContent drops every local trace of deleted content. Also called
// when another session reports the deletion.
func (s *ContentService) ForgetContent(ctx context.Context, ref model.ContentRef, authorID string) {
	s.engagement.Forget(ref)
	s.cache.Invalidate(cache.ContentKey(ref))
	s.cache.InvalidateFunc(func(key string) bool {
		return strings.Contains(key, ":"+ref.Path()+":") || strings.Contains(key, ":"+ref.Path()+"/")
	})
	if ref.Kind == model.KindComment {
		s.loader.InvalidateList(listComments, ref.Parent().Path())
		return
	}

	s.invalidateAuthor(ref.Kind, authorID)
	if s.pool != nil && s.pool.Kind() == ref.Kind {
		s.pool.Remove(ref.ID)
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, ref.Kind, ref.ID); err != nil {
			s.logger.Debug("Index remove failed", zap.String("ref", ref.String()), zap.Error(err))
		}
	}
}

// ObserveCreated applies content created by another session.
func (s *ContentService) ObserveCreated(ref model.ContentRef, authorID string) {
	s.invalidateAuthor(ref.Kind, authorID)
	if s.pool != nil && s.pool.Kind() == ref.Kind {
		s.pool.Add(ref.ID)
	}
}

func (s *ContentService) invalidateAuthor(kind model.ContentKind, authorID string) {
	s.loader.InvalidateList(contentList(kind), authorID)
	s.loader.InvalidateList(listLatest, string(kind))
	s.cache.InvalidateByPrefix(cache.ProfileKey(authorID, ""))
}

// deleteMedia removes every stored object of the item. It keeps going past
// failures and reports them together.
func (s *ContentService) deleteMedia(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if s.media == nil {
		return model.ErrMediaNotConfigured
	}
	var errs []error
	for _, key := range keys {
		if err := s.media.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddComment writes the comment and bumps the parent's comment counter.
func (s *ContentService) AddComment(ctx context.Context, parent model.ContentRef, authorID string, req *model.CreateCommentRequest) (*model.Comment, error) {
	if authorID == "" {
		return nil, model.ErrUserIDRequired
	}
	if parent.Kind != model.KindPost && parent.Kind != model.KindReel {
		return nil, fmt.Errorf("%w: comments need a post or reel parent", model.ErrInvalidContentKind)
	}
	if parent.ID == "" {
		return nil, model.ErrContentIDRequired
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, model.ErrCommentRequired
	}
	if utf8.RuneCountInString(text) > model.MaxCommentLength {
		return nil, model.ErrCommentTooLong
	}

	c := &model.Comment{
		ID:         s.newID(),
		ParentKind: parent.Kind,
		ParentID:   parent.ID,
		AuthorID:   authorID,
		Text:       text,
		CreatedAt:  s.now().Truncate(time.Millisecond),
	}

	b := s.store.Batch()
	s.comments.Create(b, c)
	s.content.IncrementCommentCount(b, parent, 1)
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, model.ErrContentGone
		}
		s.logger.Warn("Add comment FAILED", zap.String("parent", parent.String()), zap.Error(err))
		return nil, fmt.Errorf("add comment: %w", err)
	}

	s.loader.InvalidateList(listComments, parent.Path())
	s.cache.Invalidate(cache.ContentKey(parent))
	if author, err := s.loader.Summary(ctx, authorID); err == nil {
		c.Author = &author
	}

	s.logger.Info("Add comment OK", zap.String("parent", parent.String()), zap.String("id", c.ID))
	return c, nil
}

// DeleteComment removes a comment owned by requesterID and its likes.
func (s *ContentService) DeleteComment(ctx context.Context, ref model.ContentRef, requesterID string) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	c, err := s.comments.GetByID(ctx, ref)
	if err != nil {
		return err
	}
	if c.AuthorID != requesterID {
		return model.ErrNotContentOwner
	}

	b := s.store.Batch()
	s.comments.Delete(b, ref)
	s.content.IncrementCommentCount(b, ref.Parent(), -1)
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return model.ErrContentGone
		}
		s.logger.Warn("Delete comment FAILED", zap.String("ref", ref.String()), zap.Error(err))
		return fmt.Errorf("delete comment: %w", err)
	}

	if err := s.content.DeleteChildren(ctx, ref); err != nil {
		s.logger.Warn("Comment cascade incomplete", zap.String("ref", ref.String()), zap.Error(err))
	}
	s.ForgetContent(ctx, ref, c.AuthorID)
	s.cache.Invalidate(cache.ContentKey(ref.Parent()))

	s.logger.Info("Delete comment OK", zap.String("ref", ref.String()))
	publish(ctx, s.publisher, s.logger, queue.NewContentDeletedEvent(ref, c.AuthorID))
	return nil
}

// GetContent returns one post or reel with its author, through the cache.
func (s *ContentService) GetContent(ctx context.Context, ref model.ContentRef) (*model.ContentItem, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	item, err := cache.Fetch(ctx, s.cache, cache.ContentKey(ref), 0, func(ctx context.Context) (model.ContentItem, error) {
		item, err := s.content.GetByID(ctx, ref)
		if err != nil {
			return model.ContentItem{}, err
		}
		items := []model.ContentItem{*item}
		s.loader.EnrichContent(ctx, items)
		return items[0], nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// PresignUpload returns a presigned PUT URL under the author's folder.
func (s *ContentService) PresignUpload(ctx context.Context, authorID string, req *model.PresignUploadRequest) (*model.PresignUploadResponse, error) {
	if s.media == nil {
		return nil, model.ErrMediaNotConfigured
	}
	if authorID == "" {
		return nil, model.ErrUserIDRequired
	}
	if req.FileSize > model.MaxMediaSizeBytes {
		return nil, model.ErrFileTooLarge
	}
	if _, ok := model.MediaExtension(req.ContentType); !ok {
		return nil, model.ErrInvalidMediaType
	}
	return s.media.PresignUpload(ctx, "media/"+authorID, req.ContentType)
}
