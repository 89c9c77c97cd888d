package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/metrics"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
	"iamstagram_engine/internal/repository"
)

// SocialGraph owns follow edges and the denormalized follower/following
// counters. Following an already-followed user and unfollowing a user that
// is not followed are both successful no-ops that leave counters untouched.
type SocialGraph struct {
	follows   repository.FollowRepository
	users     repository.UserRepository
	store     batcher
	cache     *cache.Cache
	publisher queue.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	countTTL    time.Duration
	fallbackTTL time.Duration
	now         func() time.Time

	inflight singleflight.Group
}

func NewSocialGraph(
	follows repository.FollowRepository,
	users repository.UserRepository,
	store batcher,
	c *cache.Cache,
	publisher queue.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	countTTL, fallbackTTL time.Duration,
) *SocialGraph {
	return &SocialGraph{
		follows:     follows,
		users:       users,
		store:       store,
		cache:       c,
		publisher:   publisher,
		metrics:     m,
		logger:      logger.Named("social_graph"),
		countTTL:    countTTL,
		fallbackTTL: fallbackTTL,
		now:         time.Now,
	}
}

// IsFollowing checks the edge itself; counters are never consulted.
func (s *SocialGraph) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	if followerID == "" || followedID == "" {
		return false, model.ErrUserIDRequired
	}
	return s.follows.Exists(ctx, followerID, followedID)
}

func (s *SocialGraph) Follow(ctx context.Context, followerID, followedID string) (model.FollowStatus, error) {
	if followerID == "" || followedID == "" {
		return model.FollowStatus{}, model.ErrUserIDRequired
	}
	if followerID == followedID {
		return model.FollowStatus{}, model.ErrCannotFollowSelf
	}

	v, err, shared := s.inflight.Do("follow:"+followerID+":"+followedID, func() (any, error) {
		return s.follow(ctx, followerID, followedID)
	})
	if shared {
		s.logger.Debug("Follow collapsed into in-flight call", zap.String("follower", followerID), zap.String("followed", followedID))
	}
	if err != nil {
		s.metrics.FollowOp("follow", "error")
		return model.FollowStatus{}, err
	}
	return v.(model.FollowStatus), nil
}

func (s *SocialGraph) follow(ctx context.Context, followerID, followedID string) (model.FollowStatus, error) {
	if _, err := s.users.GetByID(ctx, followedID); err != nil {
		return model.FollowStatus{}, err
	}

	exists, err := s.follows.Exists(ctx, followerID, followedID)
	if err != nil {
		return model.FollowStatus{}, err
	}
	if exists {
		s.metrics.FollowOp("follow", "noop")
		return model.FollowStatus{IsFollowing: true}, nil
	}

	b := s.store.Batch()
	s.follows.Create(b, followerID, followedID, s.now())
	s.users.IncrementFollowersCount(b, followedID, 1)
	s.users.IncrementFollowingCount(b, followerID, 1)

	if err := b.Commit(ctx); err != nil {
		switch {
		case errors.Is(err, gateway.ErrAlreadyExists):
			// Another session created the edge between the check and the commit.
			s.metrics.FollowOp("follow", "noop")
			return model.FollowStatus{IsFollowing: true}, nil
		case errors.Is(err, gateway.ErrNotFound):
			return model.FollowStatus{}, model.ErrUserNotFound
		}
		s.logger.Warn("Follow FAILED", zap.String("follower", followerID), zap.String("followed", followedID), zap.Error(err))
		return model.FollowStatus{}, fmt.Errorf("commit follow: %w", err)
	}

	s.invalidate(followerID, followedID)
	s.metrics.FollowOp("follow", "changed")
	s.logger.Info("Follow OK", zap.String("follower", followerID), zap.String("followed", followedID))
	publish(ctx, s.publisher, s.logger, queue.NewFollowEvent(true, followerID, followedID))
	return model.FollowStatus{IsFollowing: true, Changed: true}, nil
}

func (s *SocialGraph) Unfollow(ctx context.Context, followerID, followedID string) (model.FollowStatus, error) {
	if followerID == "" || followedID == "" {
		return model.FollowStatus{}, model.ErrUserIDRequired
	}
	if followerID == followedID {
		return model.FollowStatus{}, model.ErrCannotFollowSelf
	}

	v, err, _ := s.inflight.Do("unfollow:"+followerID+":"+followedID, func() (any, error) {
		return s.unfollow(ctx, followerID, followedID)
	})
	if err != nil {
		s.metrics.FollowOp("unfollow", "error")
		return model.FollowStatus{}, err
	}
	return v.(model.FollowStatus), nil
}

func (s *SocialGraph) unfollow(ctx context.Context, followerID, followedID string) (model.FollowStatus, error) {
	exists, err := s.follows.Exists(ctx, followerID, followedID)
	if err != nil {
		return model.FollowStatus{}, err
	}
	if !exists {
		s.metrics.FollowOp("unfollow", "noop")
		return model.FollowStatus{}, nil
	}

	b := s.store.Batch()
	s.follows.Delete(b, followerID, followedID)
	s.users.IncrementFollowersCount(b, followedID, -1)
	s.users.IncrementFollowingCount(b, followerID, -1)

	if err := b.Commit(ctx); err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			s.logger.Warn("Unfollow FAILED", zap.String("follower", followerID), zap.String("followed", followedID), zap.Error(err))
			return model.FollowStatus{}, fmt.Errorf("commit unfollow: %w", err)
		}
		// Either the edge vanished (another session unfollowed) or a user
		// document is gone; the edge tells which.
		still, checkErr := s.follows.Exists(ctx, followerID, followedID)
		if checkErr == nil && !still {
			s.metrics.FollowOp("unfollow", "noop")
			return model.FollowStatus{}, nil
		}
		return model.FollowStatus{}, model.ErrUserNotFound
	}

	s.invalidate(followerID, followedID)
	s.metrics.FollowOp("unfollow", "changed")
	s.logger.Info("Unfollow OK", zap.String("follower", followerID), zap.String("followed", followedID))
	publish(ctx, s.publisher, s.logger, queue.NewFollowEvent(false, followerID, followedID))
	return model.FollowStatus{Changed: true}, nil
}

// InvalidateEdge drops every cached value derived from the follower ->
// followed edge. Also called when another session reports a change.
func (s *SocialGraph) InvalidateEdge(followerID, followedID string) {
	s.invalidate(followerID, followedID)
}

func (s *SocialGraph) invalidate(followerID, followedID string) {
	for _, id := range []string{followerID, followedID} {
		s.cache.Invalidate(cache.CountsKey(id))
		s.cache.Invalidate(cache.UserKey(id))
		s.cache.InvalidateByPrefix(cache.ProfileKey(id, ""))
	}
	s.cache.InvalidateByPrefix(cache.PagePrefix(listFollowers, followedID))
	s.cache.InvalidateByPrefix(cache.PagePrefix(listFollowing, followerID))
}

// GetFollowCounts never fails. It resolves, in order: the cache, the
// counters on the user document, a count of the edge records, and finally
// zero cached briefly so transient errors heal on their own.
func (s *SocialGraph) GetFollowCounts(ctx context.Context, userID string) model.FollowCounts {
	key := cache.CountsKey(userID)
	if counts, ok := cache.Get[model.FollowCounts](s.cache, key); ok {
		counts.Source = model.CountSourceCache
		s.metrics.CountResolved(string(model.CountSourceCache))
		return counts
	}

	v, _, _ := s.inflight.Do(key, func() (any, error) {
		// The result is shared and cached, so one caller going away must
		// not turn it into a fallback.
		counts, ttl := s.resolveCounts(context.WithoutCancel(ctx), userID)
		s.cache.SetWithTTL(key, counts, ttl)
		return counts, nil
	})
	counts := v.(model.FollowCounts)
	s.metrics.CountResolved(string(counts.Source))
	return counts
}

func (s *SocialGraph) resolveCounts(ctx context.Context, userID string) (model.FollowCounts, time.Duration) {
	user, err := s.users.GetByID(ctx, userID)
	switch {
	case err == nil && user.HasCounters:
		return model.FollowCounts{
			FollowersCount: user.FollowersCount,
			FollowingCount: user.FollowingCount,
			Source:         model.CountSourceCounters,
		}, s.countTTL
	case err != nil:
		s.logger.Debug("Counts: user document unavailable, counting edges", zap.String("user", userID), zap.Error(err))
	}

	var followers, following int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.follows.CountFollowers(gctx, userID)
		followers = n
		return err
	})
	g.Go(func() error {
		n, err := s.follows.CountFollowing(gctx, userID)
		following = n
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("Counts: falling back to zero", zap.String("user", userID), zap.Error(err))
		return model.FollowCounts{Source: model.CountSourceFallback}, s.fallbackTTL
	}

	return model.FollowCounts{
		FollowersCount: followers,
		FollowingCount: following,
		Source:         model.CountSourceEdges,
	}, s.countTTL
}
