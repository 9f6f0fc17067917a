package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_CopiesOnReadAndWrite(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	src := []byte("value")
	require.NoError(t, b.RawSet(ctx, "k", src))
	src[0] = 'X'

	data, ok, err := b.RawGet(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), data)

	data[0] = 'Y'
	again, _, err := b.RawGet(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestMemoryBackend_RawUpdateAbsentKey(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	err := b.RawUpdate(ctx, "k", func(data []byte, ok bool) ([]byte, error) {
		assert.False(t, ok)
		return []byte("created"), nil
	})
	require.NoError(t, err)

	data, ok, err := b.RawGet(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("created"), data)
}
