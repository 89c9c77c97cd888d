package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/repository"
)

// IDSource lists every ID of a content kind.
type IDSource interface {
	ListIDs(ctx context.Context, kind model.ContentKind) ([]string, error)
}

// IndexedIDs serves the feed corpus from the shared content index and
// warms it from the store on a miss. Index failures, and an index full to
// cache.ContentIndexCap, fall through to the store.
type IndexedIDs struct {
	index   cache.ContentIndex
	content repository.ContentRepository
	logger  *zap.Logger
}

func NewIndexedIDs(index cache.ContentIndex, content repository.ContentRepository, logger *zap.Logger) *IndexedIDs {
	return &IndexedIDs{index: index, content: content, logger: logger.Named("feed_corpus")}
}

// ListIDs flow:
// 1. Check if the index exists for kind
// 2. If not, load scored IDs from the store and warm it
// 3. Read IDs from the index, newest first
func (s *IndexedIDs) ListIDs(ctx context.Context, kind model.ContentKind) ([]string, error) {
	startTime := time.Now()

	exists, err := s.index.Exists(ctx, kind)
	if err != nil {
		s.logger.Warn("Index check failed, reading store", zap.String("kind", string(kind)), zap.Error(err))
		return s.content.ListIDs(ctx, kind)
	}

	if !exists {
		s.logger.Info("Index miss, warming", zap.String("kind", string(kind)))
		scored, err := s.content.ListScoredIDs(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("list %s ids: %w", kind, err)
		}
		if len(scored) == 0 {
			return []string{}, nil
		}
		if err := s.index.Warm(ctx, kind, scored); err != nil {
			s.logger.Warn("Index warm failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		ids := make([]string, len(scored))
		for i, sc := range scored {
			ids[i] = sc.ID
		}
		return ids, nil
	}

	ids, err := s.index.IDs(ctx, kind)
	if err != nil {
		s.logger.Warn("Index read failed, reading store", zap.String("kind", string(kind)), zap.Error(err))
		return s.content.ListIDs(ctx, kind)
	}
	if len(ids) >= cache.ContentIndexCap {
		// A full index has trimmed older IDs.
		s.logger.Debug("Index at cap, reading store", zap.String("kind", string(kind)), zap.Int("ids", len(ids)))
		return s.content.ListIDs(ctx, kind)
	}

	s.logger.Debug("Corpus loaded from index",
		zap.String("kind", string(kind)),
		zap.Int("ids", len(ids)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return ids, nil
}
