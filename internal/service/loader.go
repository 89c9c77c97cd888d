package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/metrics"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/repository"
)

// List names used in page cache keys.
const (
	listPosts     = "posts"
	listReels     = "reels"
	listLatest    = "latest"
	listComments  = "comments"
	listFollowers = "followers"
	listFollowing = "following"
	listLikers    = "likers"
	listSavers    = "savers"
)

// enrichLimit bounds concurrent author lookups per page.
const enrichLimit = 8

// PageConfig controls one paged load. InitialLoad sizes the first page,
// BatchSize every later one.
type PageConfig struct {
	InitialLoad  int
	BatchSize    int
	PreloadNext  bool
	CacheEnabled bool
}

func (c PageConfig) size(cursor string) int {
	if cursor == "" {
		return c.InitialLoad
	}
	return c.BatchSize
}

func (c PageConfig) withDefaults(def PageConfig) PageConfig {
	if c.InitialLoad <= 0 {
		c.InitialLoad = def.InitialLoad
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	return c
}

// Loader serves cursor-paginated lists with page caching and optional
// background prefetch of the following page.
type Loader struct {
	content    repository.ContentRepository
	comments   repository.CommentRepository
	follows    repository.FollowRepository
	engagement repository.EngagementRepository
	users      repository.UserRepository
	cache      *cache.Cache
	metrics    *metrics.Metrics
	logger     *zap.Logger

	defaults       PageConfig
	pageTTL        time.Duration
	userTTL        time.Duration
	preloadTimeout time.Duration

	wg sync.WaitGroup
}

type LoaderOptions struct {
	Defaults       PageConfig
	PageTTL        time.Duration
	UserTTL        time.Duration
	PreloadTimeout time.Duration
}

func NewLoader(
	content repository.ContentRepository,
	comments repository.CommentRepository,
	follows repository.FollowRepository,
	engagement repository.EngagementRepository,
	users repository.UserRepository,
	c *cache.Cache,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts LoaderOptions,
) *Loader {
	return &Loader{
		content:        content,
		comments:       comments,
		follows:        follows,
		engagement:     engagement,
		users:          users,
		cache:          c,
		metrics:        m,
		logger:         logger.Named("loader"),
		defaults:       opts.Defaults,
		pageTTL:        opts.PageTTL,
		userTTL:        opts.UserTTL,
		preloadTimeout: opts.PreloadTimeout,
	}
}

// Defaults returns the configured page sizes and flags.
func (l *Loader) Defaults() PageConfig {
	return l.defaults
}

// Wait blocks until background preloads finish.
func (l *Loader) Wait() {
	l.wg.Wait()
}

type fetchFunc[T any] func(ctx context.Context, cursor string, limit int) ([]T, error)

// loadPage is the shared paging algorithm. A failed load returns an empty
// page with Err set and HasMore false, so callers can tell it apart from
// the end of the list.
func loadPage[T any](ctx context.Context, l *Loader, list, owner, cursor string, cfg PageConfig, fetch fetchFunc[T], id func(T) string) model.Page[T] {
	cfg = cfg.withDefaults(l.defaults)
	size := cfg.size(cursor)
	key := cache.PageKey(list, owner, cursor, size)

	if cfg.CacheEnabled {
		if page, ok := cache.Get[model.Page[T]](l.cache, key); ok {
			l.metrics.PageLoad(list, "cache")
			return page
		}
	}

	items, err := fetch(ctx, cursor, size)
	if err != nil {
		l.metrics.PageLoad(list, "error")
		l.logger.Warn("Load page FAILED",
			zap.String("list", list),
			zap.String("owner", owner),
			zap.String("cursor", cursor),
			zap.Error(err),
		)
		return model.Page[T]{Items: []T{}, Err: err}
	}
	if items == nil {
		items = []T{}
	}

	page := model.Page[T]{Items: items, HasMore: len(items) == size}
	if len(items) > 0 {
		page.NextCursor = id(items[len(items)-1])
	}
	l.metrics.PageLoad(list, "remote")

	if cfg.CacheEnabled {
		l.cache.SetWithTTL(key, page, l.pageTTL)
		if cfg.PreloadNext && page.HasMore {
			preloadPage(ctx, l, list, owner, page.NextCursor, cfg, fetch, id)
		}
	}
	return page
}

// preloadPage fetches the next page detached from the caller. Failures are
// logged and never surfaced.
func preloadPage[T any](ctx context.Context, l *Loader, list, owner, cursor string, cfg PageConfig, fetch fetchFunc[T], id func(T) string) {
	cfg.PreloadNext = false
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.preloadTimeout)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		page := loadPage(bg, l, list, owner, cursor, cfg, fetch, id)
		if page.Err != nil {
			l.metrics.PreloadError("loader")
			l.logger.Debug("Preload failed", zap.String("list", list), zap.String("cursor", cursor), zap.Error(page.Err))
		}
	}()
}

// InvalidateList drops every cached page of list for owner.
func (l *Loader) InvalidateList(list, owner string) {
	l.cache.InvalidateByPrefix(cache.PagePrefix(list, owner))
}

func (l *Loader) LoadPosts(ctx context.Context, authorID, cursor string, cfg PageConfig) model.Page[model.ContentItem] {
	return l.loadByAuthor(ctx, model.KindPost, authorID, cursor, cfg)
}

func (l *Loader) LoadReels(ctx context.Context, authorID, cursor string, cfg PageConfig) model.Page[model.ContentItem] {
	return l.loadByAuthor(ctx, model.KindReel, authorID, cursor, cfg)
}

func (l *Loader) loadByAuthor(ctx context.Context, kind model.ContentKind, authorID, cursor string, cfg PageConfig) model.Page[model.ContentItem] {
	return loadPage(ctx, l, contentList(kind), authorID, cursor, cfg,
		func(ctx context.Context, cursor string, limit int) ([]model.ContentItem, error) {
			return l.content.ListByAuthor(ctx, kind, authorID, cursor, limit)
		},
		contentID,
	)
}

// LoadLatest pages every item of kind, newest first, with authors attached.
func (l *Loader) LoadLatest(ctx context.Context, kind model.ContentKind, cursor string, cfg PageConfig) model.Page[model.ContentItem] {
	return loadPage(ctx, l, listLatest, string(kind), cursor, cfg,
		func(ctx context.Context, cursor string, limit int) ([]model.ContentItem, error) {
			items, err := l.content.ListLatest(ctx, kind, cursor, limit)
			if err != nil {
				return nil, err
			}
			l.EnrichContent(ctx, items)
			return items, nil
		},
		contentID,
	)
}

func (l *Loader) LoadComments(ctx context.Context, parent model.ContentRef, cursor string, cfg PageConfig) model.Page[model.Comment] {
	return loadPage(ctx, l, listComments, parent.Path(), cursor, cfg,
		func(ctx context.Context, cursor string, limit int) ([]model.Comment, error) {
			comments, err := l.comments.List(ctx, parent, cursor, limit)
			if err != nil {
				return nil, err
			}
			authors := make([]string, len(comments))
			for i := range comments {
				authors[i] = comments[i].AuthorID
			}
			summaries := l.summaries(ctx, authors)
			for i := range comments {
				if s, ok := summaries[comments[i].AuthorID]; ok {
					comments[i].Author = &s
				}
			}
			return comments, nil
		},
		func(c model.Comment) string { return c.ID },
	)
}

func (l *Loader) LoadFollowers(ctx context.Context, userID, cursor string, cfg PageConfig) model.Page[model.UserSummary] {
	return loadPage(ctx, l, listFollowers, userID, cursor, cfg,
		func(ctx context.Context, cursor string, limit int) ([]model.UserSummary, error) {
			edges, err := l.follows.ListFollowers(ctx, userID, cursor, limit)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(edges))
			for i, e := range edges {
				ids[i] = e.FollowerID
			}
			return l.userList(ctx, ids), nil
		},
		summaryID,
	)
}

func (l *Loader) LoadFollowing(ctx context.Context, userID, cursor string, cfg PageConfig) model.Page[model.UserSummary] {
	return loadPage(ctx, l, listFollowing, userID, cursor, cfg,
		func(ctx context.Context, cursor string, limit int) ([]model.UserSummary, error) {
			edges, err := l.follows.ListFollowing(ctx, userID, cursor, limit)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(edges))
			for i, e := range edges {
				ids[i] = e.FollowedID
			}
			return l.userList(ctx, ids), nil
		},
		summaryID,
	)
}

// LoadEngagers pages the users who liked or saved ref.
func (l *Loader) LoadEngagers(ctx context.Context, ref model.ContentRef, kind model.EngagementKind, cursor string, cfg PageConfig) model.Page[model.UserSummary] {
	return loadPage(ctx, l, engagersList(kind), ref.Path(), cursor, cfg,
		func(ctx context.Context, cursor string, limit int) ([]model.UserSummary, error) {
			ids, err := l.engagement.ListUserIDs(ctx, ref, kind, cursor, limit)
			if err != nil {
				return nil, err
			}
			return l.userList(ctx, ids), nil
		},
		summaryID,
	)
}

// Summary returns the compact profile of userID through the user cache.
func (l *Loader) Summary(ctx context.Context, userID string) (model.UserSummary, error) {
	return cache.Fetch(ctx, l.cache, cache.UserKey(userID), l.userTTL, func(ctx context.Context) (model.UserSummary, error) {
		user, err := l.users.GetByID(ctx, userID)
		if err != nil {
			return model.UserSummary{}, err
		}
		return user.Summary(), nil
	})
}

// EnrichContent attaches author summaries in place. Lookups that fail leave
// Author nil.
func (l *Loader) EnrichContent(ctx context.Context, items []model.ContentItem) {
	authors := make([]string, len(items))
	for i := range items {
		authors[i] = items[i].AuthorID
	}
	summaries := l.summaries(ctx, authors)
	for i := range items {
		if s, ok := summaries[items[i].AuthorID]; ok {
			items[i].Author = &s
		}
	}
}

// userList keeps the order of ids. Users that cannot be resolved appear
// with only their ID so the page cursor stays aligned with the edges.
func (l *Loader) userList(ctx context.Context, ids []string) []model.UserSummary {
	summaries := l.summaries(ctx, ids)
	out := make([]model.UserSummary, len(ids))
	for i, id := range ids {
		if s, ok := summaries[id]; ok {
			out[i] = s
		} else {
			out[i] = model.UserSummary{ID: id}
		}
	}
	return out
}

func (l *Loader) summaries(ctx context.Context, ids []string) map[string]model.UserSummary {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			unique[id] = struct{}{}
		}
	}

	var mu sync.Mutex
	out := make(map[string]model.UserSummary, len(unique))

	var g errgroup.Group
	g.SetLimit(enrichLimit)
	for id := range unique {
		g.Go(func() error {
			s, err := l.Summary(ctx, id)
			if err != nil {
				if !errors.Is(err, model.ErrUserNotFound) {
					l.logger.Debug("Enrich author failed", zap.String("user", id), zap.Error(err))
				}
				return nil
			}
			mu.Lock()
			out[id] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func contentList(kind model.ContentKind) string {
	if kind == model.KindReel {
		return listReels
	}
	return listPosts
}

func engagersList(kind model.EngagementKind) string {
	if kind == model.EngagementSave {
		return listSavers
	}
	return listLikers
}

func contentID(c model.ContentItem) string { return c.ID }

func summaryID(s model.UserSummary) string { return s.ID }
