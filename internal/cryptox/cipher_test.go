package cryptox

import (
	"context"
	"testing"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	secret := []byte("0123456789abcdef0123456789abcdef")
	return NewEngine(NewSecretProviderWithSecret(secret))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	plaintexts := [][]byte{
		[]byte(`{"id":"u1","dataVersion":"1.2"}`),
		[]byte(""),
		[]byte("plain text, not json"),
	}

	for _, p := range plaintexts {
		rec, err := e.Encrypt(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, FormatVersionAESGCM, rec.FormatVersion)
		assert.Len(t, rec.IV, ivSize)
		assert.Len(t, rec.Salt, saltSize)

		got, err := e.Decrypt(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestEncrypt_FreshSaltAndIV(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p := []byte("same plaintext")
	r1, err := e.Encrypt(ctx, p)
	require.NoError(t, err)
	r2, err := e.Encrypt(ctx, p)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Salt, r2.Salt)
	assert.NotEqual(t, r1.IV, r2.IV)
	assert.NotEqual(t, r1.Ciphertext, r2.Ciphertext)
}

func TestDecrypt_TamperedRecordFails(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Encrypt(ctx, []byte("sensitive"))
	require.NoError(t, err)

	tamper := func(name string, mutate func(r EncryptedRecord) EncryptedRecord) {
		t.Run(name, func(t *testing.T) {
			bad := mutate(*rec)
			_, err := e.Decrypt(ctx, &bad)
			assert.ErrorIs(t, err, common.ErrDecryptionFailure)
		})
	}

	tamper("ciphertext", func(r EncryptedRecord) EncryptedRecord {
		r.Ciphertext = append([]byte{}, r.Ciphertext...)
		r.Ciphertext[0] ^= 0xff
		return r
	})
	tamper("iv", func(r EncryptedRecord) EncryptedRecord {
		r.IV = append([]byte{}, r.IV...)
		r.IV[0] ^= 0xff
		return r
	})
	tamper("salt", func(r EncryptedRecord) EncryptedRecord {
		r.Salt = append([]byte{}, r.Salt...)
		r.Salt[0] ^= 0xff
		return r
	})
	tamper("format version", func(r EncryptedRecord) EncryptedRecord {
		r.FormatVersion = "aes-cbc-v0"
		return r
	})
}

func TestDecrypt_NilRecord(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Decrypt(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrDecryptionFailure)
}

func TestVerifyIntegrity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Encrypt(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, e.VerifyIntegrity(ctx, rec))

	bad := *rec
	bad.Ciphertext = append([]byte{}, bad.Ciphertext...)
	bad.Ciphertext[0] ^= 0xff
	assert.False(t, e.VerifyIntegrity(ctx, &bad))
}

func TestDecrypt_SurvivesClearedKeyCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Encrypt(ctx, []byte("payload"))
	require.NoError(t, err)

	// The key must be re-derivable from the record's salt alone.
	e.ClearKeyCache()

	got, err := e.Decrypt(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}
