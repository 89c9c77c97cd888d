package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/metrics"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
	"iamstagram_engine/internal/repository"
)

// Toggle is one in-flight like/save transition. Overlapping callers on the
// same key receive the same *Toggle.
type Toggle struct {
	optimistic model.EngagementState
	done       chan struct{}
	result     model.EngagementState
	err        error
}

// Optimistic is the state applied locally before the remote call.
func (t *Toggle) Optimistic() model.EngagementState {
	return t.optimistic
}

// Done is closed once the toggle is confirmed or rolled back.
func (t *Toggle) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the toggle settles or ctx ends. ctx here only bounds the
// wait: the toggle keeps running under the ctx given to Begin, and the
// optimistic state is returned.
func (t *Toggle) Wait(ctx context.Context) (model.EngagementState, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return t.optimistic, ctx.Err()
	}
}

type engagementEntry struct {
	state    model.EngagementState
	seq      uint64
	inflight *Toggle
}

// EngagementManager applies likes and saves optimistically, reconciles them
// against the store and rolls back on failure. The lock is never held across
// a store call.
type EngagementManager struct {
	repo      repository.EngagementRepository
	store     batcher
	cache     *cache.Cache
	publisher queue.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// seq outlives entries, so a toggle started before Clear never matches
	// an entry recreated after it.
	seq atomic.Uint64

	mu      sync.Mutex
	entries map[string]*engagementEntry

	subMu sync.Mutex
	subs  map[*Subscription]struct{}

	loads singleflight.Group
}

func NewEngagementManager(
	repo repository.EngagementRepository,
	store batcher,
	c *cache.Cache,
	publisher queue.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EngagementManager {
	return &EngagementManager{
		repo:      repo,
		store:     store,
		cache:     c,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("engagement"),
		now:       time.Now,
		entries:   make(map[string]*engagementEntry),
		subs:      make(map[*Subscription]struct{}),
	}
}

func validateEngagement(ref model.ContentRef, userID string, kind model.EngagementKind) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if userID == "" {
		return model.ErrUserIDRequired
	}
	if _, err := model.ParseEngagementKind(string(kind)); err != nil {
		return err
	}
	if !kind.Supports(ref.Kind) {
		return fmt.Errorf("%w: %s on %s", model.ErrUnsupportedEngagement, kind, ref.Kind)
	}
	return nil
}

// State returns the last known state for the key, loading it from the
// store on first use.
func (m *EngagementManager) State(ctx context.Context, ref model.ContentRef, userID string, kind model.EngagementKind) (model.EngagementState, error) {
	if err := validateEngagement(ref, userID, kind); err != nil {
		return model.EngagementState{}, err
	}
	key := cache.EngagementKey(ref, userID, kind)

	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		state := e.state
		m.mu.Unlock()
		return state, nil
	}
	m.mu.Unlock()

	return m.load(ctx, key, ref, userID, kind)
}

func (m *EngagementManager) load(ctx context.Context, key string, ref model.ContentRef, userID string, kind model.EngagementKind) (model.EngagementState, error) {
	v, err, _ := m.loads.Do(key, func() (any, error) {
		state, err := m.readRemote(ctx, ref, userID, kind)
		if err != nil {
			return model.EngagementState{}, err
		}
		state.Phase = model.PhaseIdle

		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := m.entries[key]; ok {
			return e.state, nil
		}
		m.entries[key] = &engagementEntry{state: state}
		return state, nil
	})
	if err != nil {
		return model.EngagementState{}, err
	}
	return v.(model.EngagementState), nil
}

func (m *EngagementManager) readRemote(ctx context.Context, ref model.ContentRef, userID string, kind model.EngagementKind) (model.EngagementState, error) {
	count, err := m.repo.Count(ctx, ref, kind)
	if err != nil {
		return model.EngagementState{}, err
	}
	active, err := m.repo.Exists(ctx, ref, userID, kind)
	if err != nil {
		return model.EngagementState{}, err
	}
	return model.EngagementState{Ref: ref, UserID: userID, Kind: kind, IsActive: active, Count: count}, nil
}

// Toggle flips the key and blocks until the store confirms or the change is
// rolled back. When ctx ends first the remote call fails with it, so the
// returned state is the rolled-back one.
func (m *EngagementManager) Toggle(ctx context.Context, ref model.ContentRef, userID string, kind model.EngagementKind) (model.EngagementState, error) {
	t, err := m.Begin(ctx, ref, userID, kind)
	if err != nil {
		return model.EngagementState{}, err
	}
	<-t.done
	return t.result, t.err
}

// Begin applies the flip locally, notifies subscribers and starts the
// remote toggle in the background. ctx bounds the remote call; when it ends
// first the toggle rolls back. A Begin on a key that already has a toggle in
// flight returns that toggle without flipping again.
func (m *EngagementManager) Begin(ctx context.Context, ref model.ContentRef, userID string, kind model.EngagementKind) (*Toggle, error) {
	if err := validateEngagement(ref, userID, kind); err != nil {
		return nil, err
	}
	key := cache.EngagementKey(ref, userID, kind)

	m.mu.Lock()
	e, known := m.entries[key]
	m.mu.Unlock()
	if !known {
		if _, err := m.load(ctx, key, ref, userID, kind); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	e, known = m.entries[key]
	if !known {
		// Cleared between the load and now.
		e = &engagementEntry{state: model.EngagementState{Ref: ref, UserID: userID, Kind: kind}}
		m.entries[key] = e
	}
	if e.inflight != nil {
		t := e.inflight
		m.mu.Unlock()
		m.metrics.Collapsed(string(kind))
		return t, nil
	}

	prev := e.state
	optimistic := prev
	optimistic.IsActive = !prev.IsActive
	if optimistic.IsActive {
		optimistic.Count++
	} else if optimistic.Count > 0 {
		optimistic.Count--
	}
	optimistic.Phase = model.PhaseOptimistic

	seq := m.seq.Add(1)
	e.seq = seq
	t := &Toggle{optimistic: optimistic, done: make(chan struct{})}
	e.state = optimistic
	e.inflight = t
	m.mu.Unlock()

	m.notify(model.EngagementUpdate{State: optimistic})
	go m.reconcile(ctx, key, seq, prev, t)
	return t, nil
}

func (m *EngagementManager) reconcile(ctx context.Context, key string, seq uint64, prev model.EngagementState, t *Toggle) {
	m.setPhase(key, seq, model.PhaseReconciling)

	state, changed, err := m.remoteToggle(ctx, prev)
	if err != nil {
		rolled := prev
		rolled.Phase = model.PhaseRolledBack
		if errors.Is(err, model.ErrContentGone) {
			rolled.IsActive = false
			rolled.Count = 0
		}
		m.settle(key, seq, t, rolled, err)
		m.metrics.Rollback(string(prev.Kind))
		m.metrics.Toggle(string(prev.Kind), "rolled_back")
		m.logger.Warn("Toggle FAILED, rolled back",
			zap.String("ref", prev.Ref.String()),
			zap.String("user", prev.UserID),
			zap.String("kind", string(prev.Kind)),
			zap.Error(err),
		)
		return
	}

	state.Phase = model.PhaseConfirmed
	if changed {
		m.cache.Invalidate(cache.ContentKey(prev.Ref))
		m.cache.InvalidateByPrefix(cache.PagePrefix(engagersList(prev.Kind), prev.Ref.Path()))
		publish(context.WithoutCancel(ctx), m.publisher, m.logger, queue.NewEngagementEvent(state))
	}
	m.settle(key, seq, t, state, nil)
	m.metrics.Toggle(string(prev.Kind), "confirmed")
	m.logger.Debug("Toggle OK",
		zap.String("ref", prev.Ref.String()),
		zap.String("user", prev.UserID),
		zap.String("kind", string(prev.Kind)),
		zap.Bool("active", state.IsActive),
	)
}

// remoteToggle flips the join record relative to what the store holds and
// reads back the authoritative count. If another session flipped it first,
// the store's state is returned unchanged.
func (m *EngagementManager) remoteToggle(ctx context.Context, prev model.EngagementState) (model.EngagementState, bool, error) {
	ref, userID, kind := prev.Ref, prev.UserID, prev.Kind

	exists, err := m.repo.Exists(ctx, ref, userID, kind)
	if err != nil {
		return model.EngagementState{}, false, err
	}

	b := m.store.Batch()
	if exists {
		m.repo.Delete(b, ref, userID, kind)
	} else {
		m.repo.Create(b, ref, userID, kind, m.now())
	}

	changed := true
	if err := b.Commit(ctx); err != nil {
		switch {
		case errors.Is(err, gateway.ErrAlreadyExists):
			changed = false
		case errors.Is(err, gateway.ErrNotFound):
			if _, countErr := m.repo.Count(ctx, ref, kind); errors.Is(countErr, model.ErrContentGone) {
				return model.EngagementState{}, false, model.ErrContentGone
			}
			changed = false
		default:
			return model.EngagementState{}, false, fmt.Errorf("commit %s: %w", kind, err)
		}
	}

	if !changed {
		state, err := m.readRemote(ctx, ref, userID, kind)
		return state, false, err
	}

	state := model.EngagementState{Ref: ref, UserID: userID, Kind: kind, IsActive: !exists}
	state.Count, err = m.repo.Count(ctx, ref, kind)
	if err != nil {
		// The write landed; estimate from the previous count.
		m.logger.Debug("Read count after toggle failed", zap.String("ref", ref.String()), zap.Error(err))
		state.Count = prev.Count
		if state.IsActive {
			state.Count++
		} else if state.Count > 0 {
			state.Count--
		}
	}
	return state, true, nil
}

func (m *EngagementManager) setPhase(key string, seq uint64, phase model.Phase) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || e.seq != seq {
		m.mu.Unlock()
		return
	}
	e.state.Phase = phase
	state := e.state
	m.mu.Unlock()
	m.notify(model.EngagementUpdate{State: state})
}

// settle resolves t and, unless a newer toggle or a reset superseded seq,
// stores the final state.
func (m *EngagementManager) settle(key string, seq uint64, t *Toggle, state model.EngagementState, err error) {
	t.result, t.err = state, err

	m.mu.Lock()
	e, ok := m.entries[key]
	current := ok && e.seq == seq
	if current {
		e.state = state
	}
	if ok && e.inflight == t {
		e.inflight = nil
	}
	m.mu.Unlock()
	close(t.done)

	if !current {
		m.logger.Debug("Discarded stale toggle response", zap.String("key", key))
		return
	}
	update := model.EngagementUpdate{State: state}
	if err != nil {
		update.Error = err.Error()
	}
	m.notify(update)
}

// ObserveRemote applies a confirmed state reported by another session. The
// count is shared by every user's key on the same content; IsActive only
// changes for the matching user. Keys with a toggle in flight are skipped
// since their own response lands later.
func (m *EngagementManager) ObserveRemote(state model.EngagementState) {
	var updates []model.EngagementUpdate

	m.mu.Lock()
	for _, e := range m.entries {
		if e.inflight != nil || e.state.Kind != state.Kind || e.state.Ref != state.Ref {
			continue
		}
		e.state.Count = state.Count
		if e.state.UserID == state.UserID {
			e.state.IsActive = state.IsActive
		}
		e.state.Phase = model.PhaseConfirmed
		updates = append(updates, model.EngagementUpdate{State: e.state})
	}
	m.mu.Unlock()

	m.cache.Invalidate(cache.ContentKey(state.Ref))
	m.cache.InvalidateByPrefix(cache.PagePrefix(engagersList(state.Kind), state.Ref.Path()))
	for _, u := range updates {
		m.notify(u)
	}
}

// Forget drops every key on ref and its comments, used when the content
// is deleted.
func (m *EngagementManager) Forget(ref model.ContentRef) {
	exact, nested := ":"+ref.Path()+":", ":"+ref.Path()+"/"
	m.drop(func(key string) bool {
		return strings.Contains(key, exact) || strings.Contains(key, nested)
	})
}

// ClearUser drops every key that belongs to userID.
func (m *EngagementManager) ClearUser(userID string) {
	m.drop(func(key string) bool { return strings.HasSuffix(key, ":"+userID) })
}

func (m *EngagementManager) Clear() {
	m.drop(func(string) bool { return true })
}

// drop removes matching keys. A toggle in flight on a dropped key still
// resolves, but its result is no longer stored.
func (m *EngagementManager) drop(match func(key string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if match(key) {
			delete(m.entries, key)
		}
	}
}

// Subscription receives every engagement state transition. Updates are
// dropped for a subscriber whose buffer is full.
type Subscription struct {
	C <-chan model.EngagementUpdate

	ch      chan model.EngagementUpdate
	userID  string
	manager *EngagementManager
	once    sync.Once
}

// Subscribe registers a listener. userID limits updates to that user's
// keys; empty receives all.
func (m *EngagementManager) Subscribe(userID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.EngagementUpdate, buffer)
	sub := &Subscription{C: ch, ch: ch, userID: userID, manager: m}

	m.subMu.Lock()
	m.subs[sub] = struct{}{}
	m.subMu.Unlock()
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.manager.subMu.Lock()
		delete(s.manager.subs, s)
		close(s.ch)
		s.manager.subMu.Unlock()
	})
}

func (m *EngagementManager) notify(update model.EngagementUpdate) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for sub := range m.subs {
		if sub.userID != "" && sub.userID != update.State.UserID {
			continue
		}
		select {
		case sub.ch <- update:
		default:
			m.logger.Debug("Subscriber buffer full, update dropped", zap.String("user", update.State.UserID))
		}
	}
}
