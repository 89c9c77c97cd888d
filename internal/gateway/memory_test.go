package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocs(t *testing.T, m *Memory, collection string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("d%02d", i)
		require.NoError(t, m.Set(ctx, collection, id, map[string]any{"createdAt": int64(i * 10), "authorId": "u1"}))
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "users", "u1", map[string]any{"username": "ana", "tags": []string{"a"}}))

	doc, err := m.Get(ctx, "users", "u1")
	require.NoError(t, err)
	doc.Fields["username"] = "mutated"

	again, err := m.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ana", again.Fields["username"])
	assert.Equal(t, []string{"a"}, Strings(again.Fields, "tags"))
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "users", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_QueryPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, "posts", 7)
	ctx := context.Background()

	full, err := m.Query(ctx, Query{Collection: "posts", OrderBy: "createdAt"})
	require.NoError(t, err)
	require.Len(t, full.Items, 7)
	assert.Equal(t, "d07", full.Items[0].ID)

	var got []string
	cursor := ""
	for {
		page, err := m.Query(ctx, Query{Collection: "posts", OrderBy: "createdAt", Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, d := range page.Items {
			got = append(got, d.ID)
		}
		if len(page.Items) < 3 {
			break
		}
		cursor = page.Cursor
	}

	var want []string
	for _, d := range full.Items {
		want = append(want, d.ID)
	}
	assert.Equal(t, want, got)
}

func TestMemory_QueryFiltersAndAscending(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, "posts", 5)
	ctx := context.Background()
	require.NoError(t, m.Update(ctx, "posts", "d03", map[string]any{"authorId": "u2"}))

	page, err := m.Query(ctx, Query{
		Collection: "posts",
		Filters:    []Filter{{Field: "authorId", Op: OpEqual, Value: "u1"}},
		OrderBy:    "createdAt",
		Direction:  Ascending,
		IDsOnly:    true,
	})
	require.NoError(t, err)
	ids := make([]string, 0, len(page.Items))
	for _, d := range page.Items {
		ids = append(ids, d.ID)
		assert.Empty(t, d.Fields)
	}
	assert.Equal(t, []string{"d01", "d02", "d04", "d05"}, ids)

	n, err := m.Count(ctx, "posts", []Filter{{Field: "createdAt", Op: OpGreater, Value: 20}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemory_IncrementClampsAtZero(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "posts", "p1", map[string]any{"likesCount": 1}))

	require.NoError(t, m.Increment(ctx, "posts", "p1", "likesCount", -1))
	require.NoError(t, m.Increment(ctx, "posts", "p1", "likesCount", -1))

	doc, _ := m.Snapshot("posts", "p1")
	n, _ := Int64(doc, "likesCount")
	assert.Equal(t, int64(0), n)

	assert.ErrorIs(t, m.Increment(ctx, "posts", "missing", "likesCount", 1), ErrNotFound)
}

func TestMemory_ArrayUnionRemove(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "users", "u1", map[string]any{}))

	require.NoError(t, m.ArrayUnion(ctx, "users", "u1", "blocked", "a", "b", "a"))
	require.NoError(t, m.ArrayRemove(ctx, "users", "u1", "blocked", "a"))

	doc, _ := m.Snapshot("users", "u1")
	assert.Equal(t, []string{"b"}, Strings(doc, "blocked"))
}

func TestMemory_BatchIsAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "users", "u1", map[string]any{"followersCount": 10}))
	require.NoError(t, m.Set(ctx, "users/u1/followers", "u2", map[string]any{}))

	b := m.Batch()
	b.Increment("users", "u1", "followersCount", 1)
	b.Create("users/u1/followers", "u2", map[string]any{"followerId": "u2"})
	err := b.Commit(ctx)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	doc, _ := m.Snapshot("users", "u1")
	n, _ := Int64(doc, "followersCount")
	assert.Equal(t, int64(10), n, "failed batch must not apply any operation")
}

func TestMemory_BatchDeleteExisting(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "posts", "p1", map[string]any{"likesCount": 1}))
	require.NoError(t, m.Set(ctx, "posts/p1/likes", "u1", map[string]any{}))

	b := m.Batch()
	b.DeleteExisting("posts/p1/likes", "u1")
	b.Increment("posts", "p1", "likesCount", -1)
	require.NoError(t, b.Commit(ctx))

	_, ok := m.Snapshot("posts/p1/likes", "u1")
	assert.False(t, ok)

	b = m.Batch()
	b.DeleteExisting("posts/p1/likes", "u1")
	b.Increment("posts", "p1", "likesCount", -1)
	assert.ErrorIs(t, b.Commit(ctx), ErrNotFound)
}

func TestMemory_HookInjectsFailure(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.SetHook(func(ctx context.Context, op, collection string) error {
		if op == "commit" {
			return boom
		}
		return nil
	})

	b := m.Batch()
	b.Set("users", "u1", map[string]any{})
	assert.ErrorIs(t, b.Commit(context.Background()), boom)
	_, ok := m.Snapshot("users", "u1")
	assert.False(t, ok)

	m.SetHook(nil)
	require.NoError(t, m.Set(context.Background(), "users", "u1", map[string]any{}))
}

func TestMemory_CursorMissing(t *testing.T) {
	m := NewMemory()
	seedDocs(t, m, "posts", 2)
	_, err := m.Query(context.Background(), Query{Collection: "posts", Cursor: "gone"})
	assert.ErrorIs(t, err, ErrNotFound)
}
