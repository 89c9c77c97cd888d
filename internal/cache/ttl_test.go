package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iamstagram_engine/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_ExpiresExactlyAtTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, WithClock(clock.Now))

	c.SetWithTTL("counts:u1", 42, 10*time.Second)

	clock.Advance(10*time.Second - time.Millisecond)
	v, ok := c.Get("counts:u1")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	clock.Advance(time.Millisecond)
	_, ok = c.Get("counts:u1")
	assert.False(t, ok, "entry must be absent at storedAt+ttl")
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on read")
}

func TestCache_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, WithClock(clock.Now))

	c.Set("k", "v")
	c.SetWithTTL("zero", "v", 0)
	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)
	_, ok = c.Get("zero")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Invalidation(t *testing.T) {
	c := New(time.Minute)
	c.Set(ProfileKey("u1", "u2"), 1)
	c.Set(ProfileKey("u1", "u3"), 2)
	c.Set(CountsKey("u1"), 3)
	c.Set(CountsKey("u10"), 4)
	c.Set(PageKey("posts", "u1", "", 12), 5)

	assert.Equal(t, 2, c.InvalidateByPrefix("profile:u1:"))
	assert.Equal(t, 3, c.Len())

	assert.Equal(t, 1, c.InvalidateContaining("u10"))
	assert.Equal(t, 1, c.InvalidateFunc(func(k string) bool { return MentionsSegment(k, "u1") && family(k) == FamilyCounts }))

	c.Invalidate(PageKey("posts", "u1", "", 12))
	assert.Equal(t, 0, c.Len())

	c.Set("a", 1)
	c.Clear()
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestGet_TypeMismatchIsMiss(t *testing.T) {
	c := New(time.Minute)
	c.Set("k", "string")

	_, ok := Get[int](c, "k")
	assert.False(t, ok)

	s, ok := Get[string](c, "k")
	assert.True(t, ok)
	assert.Equal(t, "string", s)
}

func TestFetch_SharesConcurrentLoads(t *testing.T) {
	c := New(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Fetch(context.Background(), c, "k", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}

	v, err := Fetch(context.Background(), c, "k", time.Minute, func(ctx context.Context) (int, error) {
		t.Fatal("cached value must be served without loading")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFetch_ErrorsAreNotCached(t *testing.T) {
	c := New(time.Minute)
	boom := errors.New("boom")

	_, err := Fetch(context.Background(), c, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestKeys(t *testing.T) {
	ref := model.ContentRef{Kind: model.KindPost, ID: "p1"}
	assert.Equal(t, "engagement:like:posts/p1:u1", EngagementKey(ref, "u1", model.EngagementLike))
	assert.Equal(t, "page:followers:u1::12", PageKey("followers", "u1", "", 12))
	assert.True(t, MentionsSegment(PageKey("followers", "u1", "", 12), "u1"))
	assert.False(t, MentionsSegment(CountsKey("u10"), "u1"))
	assert.Equal(t, FamilyPage, family(PageKey("posts", "u1", "c", 9)))
}
