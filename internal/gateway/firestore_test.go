package gateway

import (
	"context"
	"fmt"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmulatorFirestore connects to the emulator named by
// FIRESTORE_EMULATOR_HOST, which the client library picks up on its own.
func newEmulatorFirestore(t *testing.T) *Firestore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping test")
	}
	client, err := firestore.NewClient(context.Background(), "iamstagram-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewFirestore(client)
}

func TestFirestore_CountWithFilter(t *testing.T) {
	f := newEmulatorFirestore(t)
	ctx := context.Background()
	collection := fmt.Sprintf("count_test_%s", t.Name())
	for i, author := range []string{"u1", "u1", "u2"} {
		require.NoError(t, f.Set(ctx, collection, fmt.Sprintf("d%d", i), map[string]any{"authorId": author}))
	}

	all, err := f.Count(ctx, collection, nil)
	require.NoError(t, err)
	byU1, err := f.Count(ctx, collection, []Filter{{Field: "authorId", Op: OpEqual, Value: "u1"}})
	require.NoError(t, err)

	assert.Equal(t, int64(3), all)
	assert.Equal(t, int64(2), byU1)
}

func TestFirestore_GetMissingIsNotFound(t *testing.T) {
	f := newEmulatorFirestore(t)

	_, err := f.Get(context.Background(), "count_test_missing", "nope")

	assert.ErrorIs(t, err, ErrNotFound)
}
