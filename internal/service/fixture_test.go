package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/queue"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingPublisher captures published events; publishFn may inject errors.
type recordingPublisher struct {
	mu        sync.Mutex
	events    []queue.ChangeEvent
	publishFn func(event queue.ChangeEvent) error
}

func (p *recordingPublisher) Publish(ctx context.Context, event queue.ChangeEvent) (string, error) {
	if p.publishFn != nil {
		if err := p.publishFn(event); err != nil {
			return "", err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "1-0", nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// mockMediaStore lets each test define presign and delete behavior.
type mockMediaStore struct {
	mu          sync.Mutex
	deleted     []string
	deleteFn    func(key string) error
	presignFn   func(folder, contentType string) (*model.PresignUploadResponse, error)
	presignArgs []string
	putFn       func(key string, body []byte) error
	put         map[string][]byte
}

func (m *mockMediaStore) PresignUpload(ctx context.Context, folder, contentType string) (*model.PresignUploadResponse, error) {
	m.mu.Lock()
	m.presignArgs = append(m.presignArgs, folder)
	m.mu.Unlock()
	if m.presignFn != nil {
		return m.presignFn(folder, contentType)
	}
	return &model.PresignUploadResponse{Key: folder + "/k.jpg", UploadURL: "https://upload", PublicURL: "https://cdn/" + folder + "/k.jpg"}, nil
}

func (m *mockMediaStore) Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) (string, error) {
	if m.putFn != nil {
		if err := m.putFn(key, body); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.put == nil {
		m.put = make(map[string][]byte)
	}
	m.put[key] = body
	return "https://cdn/" + key, nil
}

func (m *mockMediaStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, key)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(key)
	}
	return nil
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	gw        *gateway.Memory
	clock     *fakeClock
	publisher *recordingPublisher
	media     *mockMediaStore
	engine    *Engine
}

func testOptions(clock *fakeClock) Options {
	return Options{
		ProfileTTL:      5 * time.Minute,
		FollowCountTTL:  2 * time.Minute,
		FallbackTTL:     30 * time.Second,
		PageTTL:         5 * time.Minute,
		PreloadTimeout:  5 * time.Second,
		InitialPageSize: 3,
		BatchPageSize:   2,
		PreloadNext:     false,
		FeedKind:        model.KindReel,
		FeedBatchSize:   3,
		FeedSeed:        42,
		Clock:           clock.Now,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:        gateway.NewMemory(),
		clock:     newFakeClock(),
		publisher: &recordingPublisher{},
		media:     &mockMediaStore{},
	}
	f.engine = f.newSession()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.engine.Shutdown(ctx)
	})
	return f
}

// newSession builds a second engine over the same store, standing in for
// another device of the same account.
func (f *fixture) newSession() *Engine {
	return NewEngine(Deps{
		Gateway:   f.gw,
		Publisher: f.publisher,
		Media:     f.media,
	}, testOptions(f.clock))
}

func (f *fixture) seedUser(t *testing.T, id string, followers, following int64, private bool) {
	t.Helper()
	require.NoError(t, f.gw.Set(context.Background(), "users", id, map[string]any{
		"username":       id,
		"displayName":    "User " + id,
		"isPrivate":      private,
		"followersCount": followers,
		"followingCount": following,
		"postsCount":     int64(0),
		"reelsCount":     int64(0),
	}))
}

func (f *fixture) seedContent(t *testing.T, kind model.ContentKind, id, author string, createdAt int64) {
	t.Helper()
	require.NoError(t, f.gw.Set(context.Background(), kind.Collection(), id, map[string]any{
		"authorId":      author,
		"caption":       "caption " + id,
		"mediaURLs":     []any{"https://cdn/" + id + ".jpg"},
		"mediaKeys":     []any{"media/" + author + "/" + id + ".jpg"},
		"likesCount":    int64(0),
		"savesCount":    int64(0),
		"commentsCount": int64(0),
		"createdAt":     createdAt,
	}))
}

func (f *fixture) counter(t *testing.T, collection, id, field string) int64 {
	t.Helper()
	fields, ok := f.gw.Snapshot(collection, id)
	require.True(t, ok, "%s/%s missing", collection, id)
	n, _ := gateway.Int64(fields, field)
	return n
}

// barrier blocks the first n callers until all n have arrived, or until
// the timeout, so racing sessions all pass their checks before committing.
func barrier(n int, timeout time.Duration) func() {
	var mu sync.Mutex
	arrived := 0
	release := make(chan struct{})
	return func() {
		mu.Lock()
		arrived++
		if arrived == n {
			close(release)
		}
		mu.Unlock()
		select {
		case <-release:
		case <-time.After(timeout):
		}
	}
}
