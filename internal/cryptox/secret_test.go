package cryptox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretProvider_LazyAndStable(t *testing.T) {
	p := NewSecretProvider()
	ctx := context.Background()

	s1, err := p.Secret(ctx)
	require.NoError(t, err)
	assert.Len(t, s1, DeviceSecretSize)

	s2, err := p.Secret(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestSecretProvider_WipeDropsSecret(t *testing.T) {
	p := NewSecretProvider()
	ctx := context.Background()

	s1, err := p.Secret(ctx)
	require.NoError(t, err)
	before := append([]byte{}, s1...)

	p.Wipe()
	assert.Equal(t, make([]byte, len(before)), s1)

	s2, err := p.Secret(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, s2)
}

func TestSecretProvider_FromPassphraseDeterministic(t *testing.T) {
	ctx := context.Background()

	p1 := NewSecretProviderFromPassphrase([]byte("correct horse"), []byte("device-1"))
	p2 := NewSecretProviderFromPassphrase([]byte("correct horse"), []byte("device-1"))
	p3 := NewSecretProviderFromPassphrase([]byte("correct horse"), []byte("device-2"))

	s1, err := p1.Secret(ctx)
	require.NoError(t, err)
	s2, err := p2.Secret(ctx)
	require.NoError(t, err)
	s3, err := p3.Secret(ctx)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, s3)
}

func TestSecretProvider_SigningKeyDiffersFromSecret(t *testing.T) {
	p := NewSecretProviderWithSecret([]byte("0123456789abcdef0123456789abcdef"))
	ctx := context.Background()

	secret, err := p.Secret(ctx)
	require.NoError(t, err)

	k1, err := p.SigningKey(ctx, "email-verification")
	require.NoError(t, err)
	k2, err := p.SigningKey(ctx, "something-else")
	require.NoError(t, err)

	assert.NotEqual(t, secret, k1)
	assert.NotEqual(t, k1, k2)
}
