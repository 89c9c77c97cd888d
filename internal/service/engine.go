package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/config"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/media"
	"iamstagram_engine/internal/metrics"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
	"iamstagram_engine/internal/repository"
)

// Deps are the engine's external collaborators. Only Gateway is required.
type Deps struct {
	Gateway   gateway.Gateway
	Publisher queue.Publisher
	Index     cache.ContentIndex
	Media     media.Store
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Options struct {
	ProfileTTL     time.Duration
	FollowCountTTL time.Duration
	FallbackTTL    time.Duration
	PageTTL        time.Duration
	PreloadTimeout time.Duration

	InitialPageSize int
	BatchPageSize   int
	PreloadNext     bool

	FeedKind      model.ContentKind
	FeedBatchSize int
	FeedSeed      uint64

	// Clock overrides time.Now for the cache; nil uses the wall clock.
	Clock func() time.Time
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ProfileTTL:      cfg.ProfileTTL,
		FollowCountTTL:  cfg.FollowCountTTL,
		FallbackTTL:     cfg.FallbackTTL,
		PageTTL:         cfg.PageTTL,
		PreloadTimeout:  cfg.PreloadTimeout,
		InitialPageSize: cfg.InitialPageSize,
		BatchPageSize:   cfg.BatchPageSize,
		PreloadNext:     cfg.PreloadNext,
		FeedKind:        model.ContentKind(cfg.FeedKind),
		FeedBatchSize:   cfg.FeedBatchSize,
	}
}

// Engine owns one instance of every component, wired once at startup.
type Engine struct {
	Cache       *cache.Cache
	Users       *UserService
	SocialGraph *SocialGraph
	Engagement  *EngagementManager
	Loader      *Loader
	FeedPool    *FeedPool
	Profiles    *ProfileAggregator
	Content     *ContentService

	logger *zap.Logger
}

func NewEngine(deps Deps, opts Options) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheOpts := []cache.Option{cache.WithMetrics(deps.Metrics)}
	if opts.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Clock))
	}
	c := cache.New(opts.PageTTL, cacheOpts...)

	gw := deps.Gateway
	users := repository.NewUserRepository(gw)
	follows := repository.NewFollowRepository(gw)
	engagements := repository.NewEngagementRepository(gw)
	content := repository.NewContentRepository(gw)
	comments := repository.NewCommentRepository(gw)

	loader := NewLoader(content, comments, follows, engagements, users, c, deps.Metrics, logger, LoaderOptions{
		Defaults: PageConfig{
			InitialLoad:  opts.InitialPageSize,
			BatchSize:    opts.BatchPageSize,
			PreloadNext:  opts.PreloadNext,
			CacheEnabled: true,
		},
		PageTTL:        opts.PageTTL,
		UserTTL:        opts.ProfileTTL,
		PreloadTimeout: opts.PreloadTimeout,
	})

	var ids IDSource = content
	if deps.Index != nil {
		ids = NewIndexedIDs(deps.Index, content, logger)
	}
	pool := NewFeedPool(ids, content, loader, deps.Metrics, logger, FeedPoolOptions{
		Kind:           opts.FeedKind,
		BatchSize:      opts.FeedBatchSize,
		PreloadTimeout: opts.PreloadTimeout,
		Seed:           opts.FeedSeed,
	})

	graph := NewSocialGraph(follows, users, gw, c, deps.Publisher, deps.Metrics, logger, opts.FollowCountTTL, opts.FallbackTTL)
	engagement := NewEngagementManager(engagements, gw, c, deps.Publisher, deps.Metrics, logger)

	return &Engine{
		Cache:       c,
		Users:       NewUserService(users, c, deps.Media, logger),
		SocialGraph: graph,
		Engagement:  engagement,
		Loader:      loader,
		FeedPool:    pool,
		Profiles:    NewProfileAggregator(users, graph, loader, c, logger, opts.ProfileTTL, opts.PreloadTimeout),
		Content: NewContentService(content, comments, users, gw, c, ContentDeps{
			Engagement: engagement,
			Loader:     loader,
			Pool:       pool,
			Index:      deps.Index,
			Media:      deps.Media,
			Publisher:  deps.Publisher,
		}, logger),
		logger: logger.Named("engine"),
	}
}

// ClearCache drops every cached value and engagement state, used on logout.
func (e *Engine) ClearCache() {
	e.Cache.Clear()
	e.Engagement.Clear()
	e.FeedPool.Reset()
	e.logger.Info("Cache cleared")
}

// ClearCacheForUser drops every cached value whose key names userID.
func (e *Engine) ClearCacheForUser(userID string) int {
	n := e.Cache.InvalidateFunc(func(key string) bool {
		return cache.MentionsSegment(key, userID)
	})
	e.Engagement.ClearUser(userID)
	e.logger.Info("Cache cleared for user", zap.String("user", userID), zap.Int("entries", n))
	return n
}

// Shutdown waits for background preloads and refreshes, or for ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.Loader.Wait()
		e.FeedPool.Wait()
		e.Profiles.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
