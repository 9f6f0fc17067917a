package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	ctx := context.Background()
	b, err := OpenSQLiteBackend(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteBackend_SetGetRemove(t *testing.T) {
	b := setupSQLiteBackend(t)
	ctx := context.Background()

	_, ok, err := b.RawGet(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.RawSet(ctx, "k1", []byte("v1")))
	data, ok, err := b.RawGet(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	// Upsert replaces.
	require.NoError(t, b.RawSet(ctx, "k1", []byte("v2")))
	data, ok, err = b.RawGet(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, b.RawRemove(ctx, "k1"))
	_, ok, err = b.RawGet(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent key is fine.
	require.NoError(t, b.RawRemove(ctx, "k1"))
}

func TestSQLiteBackend_Keys(t *testing.T) {
	b := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, b.RawSet(ctx, "b", []byte("2")))
	require.NoError(t, b.RawSet(ctx, "a", []byte("1")))

	keys, err := b.RawKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestSQLiteBackend_RawUpdate(t *testing.T) {
	b := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, b.RawSet(ctx, "k1", []byte("old")))

	err := b.RawUpdate(ctx, "k1", func(data []byte, ok bool) ([]byte, error) {
		require.True(t, ok)
		require.Equal(t, []byte("old"), data)
		return []byte("new"), nil
	})
	require.NoError(t, err)

	data, ok, err := b.RawGet(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), data)
}

func TestSQLiteBackend_RawUpdateRollsBackOnError(t *testing.T) {
	b := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, b.RawSet(ctx, "k1", []byte("old")))

	boom := errors.New("conversion failed")
	err := b.RawUpdate(ctx, "k1", func(data []byte, ok bool) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	data, ok, err := b.RawGet(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("old"), data)
}
