package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"iamstagram_engine/internal/metrics"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/repository"
)

// FeedPool hands out random, non-repeating batches of one content kind.
// Once every ID has been shown the pool reshuffles and starts over.
type FeedPool struct {
	kind      model.ContentKind
	batchSize int

	ids     IDSource
	content repository.ContentRepository
	loader  *Loader
	metrics *metrics.Metrics
	logger  *zap.Logger

	preloadTimeout time.Duration

	// lazy collapses concurrent first NextBatch calls into one Initialize.
	lazy singleflight.Group

	mu        sync.Mutex
	ready     bool
	all       []string
	used      map[string]struct{}
	preloaded map[string]model.ContentItem
	pending   map[string]struct{}
	rng       *rand.Rand

	wg sync.WaitGroup
}

type FeedPoolOptions struct {
	Kind           model.ContentKind
	BatchSize      int
	PreloadTimeout time.Duration
	// Seed makes shuffles reproducible; zero seeds from the runtime.
	Seed uint64
}

func NewFeedPool(ids IDSource, content repository.ContentRepository, loader *Loader, m *metrics.Metrics, logger *zap.Logger, opts FeedPoolOptions) *FeedPool {
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &FeedPool{
		kind:           opts.Kind,
		batchSize:      opts.BatchSize,
		ids:            ids,
		content:        content,
		loader:         loader,
		metrics:        m,
		logger:         logger.Named("feed_pool"),
		preloadTimeout: opts.PreloadTimeout,
		used:           make(map[string]struct{}),
		preloaded:      make(map[string]model.ContentItem),
		pending:        make(map[string]struct{}),
		rng:            rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (p *FeedPool) Kind() model.ContentKind {
	return p.kind
}

// Initialize loads the corpus, shuffles it and starts preloading the first
// batch. Calling it again resets the pool.
func (p *FeedPool) Initialize(ctx context.Context) error {
	ids, err := p.ids.ListIDs(ctx, p.kind)
	if err != nil {
		return fmt.Errorf("load %s corpus: %w", p.kind, err)
	}

	p.mu.Lock()
	p.all = dedupe(ids)
	p.rng.Shuffle(len(p.all), func(i, j int) { p.all[i], p.all[j] = p.all[j], p.all[i] })
	p.used = make(map[string]struct{})
	p.preloaded = make(map[string]model.ContentItem)
	p.ready = true
	total := len(p.all)
	p.mu.Unlock()

	p.logger.Info("Feed pool initialized", zap.String("kind", string(p.kind)), zap.Int("ids", total))
	p.preload(ctx, p.batchSize)
	return nil
}

// NextBatch returns up to n unseen items. HasMore is false only for an
// empty corpus; Fresh is false once the returned batch exhausted the
// current shuffle.
func (p *FeedPool) NextBatch(ctx context.Context, n int) (model.FeedBatch, error) {
	if n <= 0 {
		n = p.batchSize
	}

	if !p.isReady() {
		_, err, _ := p.lazy.Do("init", func() (any, error) {
			if p.isReady() {
				return nil, nil
			}
			return nil, p.Initialize(ctx)
		})
		if err != nil {
			return model.FeedBatch{}, err
		}
	}

	p.mu.Lock()
	if len(p.all) == 0 {
		p.mu.Unlock()
		return model.FeedBatch{Items: []model.ContentItem{}}, nil
	}

	available := p.availableLocked()
	if len(available) < n {
		available = p.reshuffleLocked(available)
	}

	selected := available[:min(n, len(available))]
	items := make([]model.ContentItem, 0, len(selected))
	var missing []string
	for _, id := range selected {
		p.used[id] = struct{}{}
		if item, ok := p.preloaded[id]; ok {
			items = append(items, item)
			delete(p.preloaded, id)
		} else {
			missing = append(missing, id)
		}
	}
	fresh := len(p.all) > len(p.used)
	p.mu.Unlock()

	resolved, err := p.fetch(ctx, missing)
	if err != nil {
		p.metrics.FeedFallback()
		p.logger.Warn("Feed batch resolve failed, falling back to latest", zap.String("kind", string(p.kind)), zap.Error(err))
		p.release(selected, items)
		page := p.loader.LoadLatest(ctx, p.kind, "", PageConfig{InitialLoad: n, CacheEnabled: true})
		if page.Err != nil {
			return model.FeedBatch{}, fmt.Errorf("load %s feed: %w", p.kind, page.Err)
		}
		return model.FeedBatch{Items: page.Items, HasMore: true, Fresh: true}, nil
	}
	items = append(items, resolved...)

	p.loader.EnrichContent(ctx, items)
	p.mu.Lock()
	p.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	p.mu.Unlock()

	p.preload(ctx, n)
	return model.FeedBatch{Items: items, HasMore: true, Fresh: fresh}, nil
}

func (p *FeedPool) isReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// release returns an undelivered selection to the current cycle, putting
// already preloaded items back.
func (p *FeedPool) release(selected []string, items []model.ContentItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range selected {
		delete(p.used, id)
	}
	for _, item := range items {
		if slices.Contains(p.all, item.ID) {
			p.preloaded[item.ID] = item
		}
	}
}

func (p *FeedPool) availableLocked() []string {
	available := make([]string, 0, len(p.all)-len(p.used))
	for _, id := range p.all {
		if _, ok := p.used[id]; !ok {
			available = append(available, id)
		}
	}
	return available
}

// reshuffleLocked starts a new cycle. IDs left unseen in the old cycle go
// first so every ID is shown once per cycle.
func (p *FeedPool) reshuffleLocked(leftover []string) []string {
	rest := make([]string, 0, len(p.all)-len(leftover))
	for _, id := range p.all {
		if !slices.Contains(leftover, id) {
			rest = append(rest, id)
		}
	}
	p.rng.Shuffle(len(leftover), func(i, j int) { leftover[i], leftover[j] = leftover[j], leftover[i] })
	p.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	p.all = append(leftover, rest...)
	p.used = make(map[string]struct{})
	p.metrics.Reshuffle()
	p.logger.Debug("Feed pool reshuffled", zap.String("kind", string(p.kind)), zap.Int("ids", len(p.all)))
	return slices.Clone(p.all)
}

// fetch resolves ids concurrently. Items deleted since the corpus was
// loaded are dropped from the pool instead of failing the batch.
func (p *FeedPool) fetch(ctx context.Context, ids []string) ([]model.ContentItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	results := make([]*model.ContentItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichLimit)
	for i, id := range ids {
		g.Go(func() error {
			item, err := p.content.GetByID(gctx, model.ContentRef{Kind: p.kind, ID: id})
			if errors.Is(err, model.ErrContentGone) {
				p.Remove(id)
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]model.ContentItem, 0, len(ids))
	for _, item := range results {
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

// preload fetches the next n unseen items in the background.
func (p *FeedPool) preload(ctx context.Context, n int) {
	p.mu.Lock()
	var next []string
	for _, id := range p.availableLocked() {
		if len(next) == n {
			break
		}
		_, done := p.preloaded[id]
		_, busy := p.pending[id]
		if !done && !busy {
			next = append(next, id)
			p.pending[id] = struct{}{}
		}
	}
	p.mu.Unlock()
	if len(next) == 0 {
		return
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.preloadTimeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		items, err := p.fetch(bg, next)

		p.mu.Lock()
		for _, id := range next {
			delete(p.pending, id)
		}
		if err == nil {
			for _, item := range items {
				if _, used := p.used[item.ID]; !used && slices.Contains(p.all, item.ID) {
					p.preloaded[item.ID] = item
				}
			}
		}
		p.mu.Unlock()

		if err != nil {
			p.metrics.PreloadError("feed_pool")
			p.logger.Debug("Feed preload failed", zap.String("kind", string(p.kind)), zap.Error(err))
		}
	}()
}

// Add inserts a new ID at a random unseen position.
func (p *FeedPool) Add(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready || slices.Contains(p.all, id) {
		return
	}
	at := p.rng.IntN(len(p.all) + 1)
	p.all = slices.Insert(p.all, at, id)
}

// Remove drops an ID from every pool structure.
func (p *FeedPool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := slices.Index(p.all, id); i >= 0 {
		p.all = slices.Delete(p.all, i, i+1)
	}
	delete(p.used, id)
	delete(p.preloaded, id)
}

// Stats reports corpus size and how many IDs the current cycle has shown.
func (p *FeedPool) Stats() (total, used int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all), len(p.used)
}

// Reset forgets the corpus; the next batch reloads it.
func (p *FeedPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	p.all = nil
	p.used = make(map[string]struct{})
	p.preloaded = make(map[string]model.ContentItem)
}

// Wait blocks until background preloads finish.
func (p *FeedPool) Wait() {
	p.wg.Wait()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
