package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/repository"
)

// ProfileAggregator composes the profile screen from the user document,
// follow counts, the viewer's follow edge and the first content pages.
type ProfileAggregator struct {
	users  repository.UserRepository
	graph  *SocialGraph
	loader *Loader
	cache  *cache.Cache
	logger *zap.Logger

	ttl            time.Duration
	preloadTimeout time.Duration
	now            func() time.Time

	refresh singleflight.Group
	wg      sync.WaitGroup
}

func NewProfileAggregator(
	users repository.UserRepository,
	graph *SocialGraph,
	loader *Loader,
	c *cache.Cache,
	logger *zap.Logger,
	ttl, preloadTimeout time.Duration,
) *ProfileAggregator {
	return &ProfileAggregator{
		users:          users,
		graph:          graph,
		loader:         loader,
		cache:          c,
		logger:         logger.Named("profile"),
		ttl:            ttl,
		preloadTimeout: preloadTimeout,
		now:            time.Now,
	}
}

// LoadProfile returns the cached view when present. A view older than half
// its TTL is still returned but refreshed once in the background.
func (p *ProfileAggregator) LoadProfile(ctx context.Context, profileID, viewerID string) (model.ProfileView, error) {
	if profileID == "" {
		return model.ProfileView{}, model.ErrUserIDRequired
	}
	key := cache.ProfileKey(profileID, viewerID)

	if v, age, ok := p.cache.GetWithAge(key); ok {
		if view, ok := v.(model.ProfileView); ok {
			if age >= p.ttl/2 {
				p.revalidate(ctx, key, profileID, viewerID)
			}
			return view, nil
		}
	}

	v, err, _ := p.refresh.Do(key, func() (any, error) {
		view, err := p.compose(ctx, profileID, viewerID)
		if err != nil {
			return model.ProfileView{}, err
		}
		p.cache.SetWithTTL(key, view, p.ttl)
		return view, nil
	})
	if err != nil {
		return model.ProfileView{}, err
	}
	return v.(model.ProfileView), nil
}

func (p *ProfileAggregator) revalidate(ctx context.Context, key, profileID, viewerID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.preloadTimeout)
		defer cancel()

		_, err, _ := p.refresh.Do(key, func() (any, error) {
			view, err := p.compose(bg, profileID, viewerID)
			if err != nil {
				return nil, err
			}
			p.cache.SetWithTTL(key, view, p.ttl)
			return view, nil
		})
		if err != nil {
			p.logger.Debug("Profile refresh failed", zap.String("profile", profileID), zap.Error(err))
		}
	}()
}

// compose fans out every read. Only a missing or unreadable user document
// fails the whole view; the other parts degrade.
func (p *ProfileAggregator) compose(ctx context.Context, profileID, viewerID string) (model.ProfileView, error) {
	var (
		user        *model.User
		counts      model.FollowCounts
		isFollowing bool
		posts       model.Page[model.ContentItem]
		reels       model.Page[model.ContentItem]
	)
	own := viewerID != "" && viewerID == profileID
	cfg := p.loader.Defaults()
	cfg.CacheEnabled = true

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := p.users.GetByID(gctx, profileID)
		user = u
		return err
	})
	g.Go(func() error {
		counts = p.graph.GetFollowCounts(gctx, profileID)
		return nil
	})
	if viewerID != "" && !own {
		g.Go(func() error {
			ok, err := p.graph.IsFollowing(gctx, viewerID, profileID)
			if err != nil {
				p.logger.Debug("Follow check failed, treating as not following",
					zap.String("viewer", viewerID), zap.String("profile", profileID), zap.Error(err))
				return nil
			}
			isFollowing = ok
			return nil
		})
	}
	g.Go(func() error {
		posts = p.loader.LoadPosts(gctx, profileID, "", cfg)
		return nil
	})
	g.Go(func() error {
		reels = p.loader.LoadReels(gctx, profileID, "", cfg)
		return nil
	})
	if err := g.Wait(); err != nil {
		p.logger.Warn("Load profile FAILED", zap.String("profile", profileID), zap.Error(err))
		return model.ProfileView{}, err
	}

	view := model.ProfileView{
		User:         *user,
		Counts:       counts,
		IsFollowing:  isFollowing,
		IsOwnProfile: own,
		CanView:      own || !user.IsPrivate || isFollowing,
		Posts:        []model.ContentItem{},
		Reels:        []model.ContentItem{},
		LoadedAt:     p.now(),
	}
	if view.CanView {
		view.Posts, view.PostsCursor, view.HasMorePosts = posts.Items, posts.NextCursor, posts.HasMore
		view.Reels, view.ReelsCursor, view.HasMoreReels = reels.Items, reels.NextCursor, reels.HasMore
	}
	return view, nil
}

// Wait blocks until background refreshes finish.
func (p *ProfileAggregator) Wait() {
	p.wg.Wait()
}
