// Package cryptox implements the cipher engine: key derivation from the
// device secret plus a per-record salt, and authenticated encryption of
// opaque payloads into EncryptedRecord frames. The engine has no knowledge
// of what it encrypts.
package cryptox

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/calcwerk/vaultcore/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// FormatVersionAESGCM pins the current encryption scheme: PBKDF2-SHA256
	// key derivation and AES-256-GCM sealing. Distinct from the application
	// schema version carried inside the plaintext.
	FormatVersionAESGCM = "aes-gcm-v1"

	saltSize = 16
	ivSize   = 12
	keySize  = 32

	// Derivation is deliberately expensive to resist brute force; the
	// iteration count is fixed so existing records stay decryptable.
	kdfIterations = 100_000
)

// EncryptedRecord is the on-disk framing of an encrypted payload. IV and salt
// are freshly random on every encryption call and never reused.
type EncryptedRecord struct {
	Ciphertext    []byte    `json:"ciphertext"`
	IV            []byte    `json:"iv"`
	Salt          []byte    `json:"salt"`
	FormatVersion string    `json:"formatVersion"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Engine performs authenticated encryption/decryption with keys derived from
// the device secret. Derived keys are cached by salt in a bounded cache.
type Engine struct {
	secrets *SecretProvider
	cache   *keyCache
}

// NewEngine returns an engine bound to the given secret provider.
func NewEngine(secrets *SecretProvider) *Engine {
	return &Engine{
		secrets: secrets,
		cache:   newKeyCache(keyCacheLimit),
	}
}

func deriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, kdfIterations, keySize, sha256.New)
}

// key returns the derived key for the given salt, consulting the cache first.
func (e *Engine) key(ctx context.Context, salt []byte) ([]byte, error) {
	if k, ok := e.cache.get(salt); ok {
		return k, nil
	}
	secret, err := e.secrets.Secret(ctx)
	if err != nil {
		return nil, err
	}
	k := deriveKey(secret, salt)
	e.cache.put(salt, k)
	return k, nil
}

// Encrypt seals the plaintext into an EncryptedRecord. Salt and IV are
// generated fresh, so two encryptions of identical plaintext never produce
// identical ciphertext. All failures wrap common.ErrEncryptionFailure.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte) (*EncryptedRecord, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: generating salt: %v", common.ErrEncryptionFailure, err)
	}

	key, err := e.key(ctx, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving key: %v", common.ErrEncryptionFailure, err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generating iv: %v", common.ErrEncryptionFailure, err)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}

	return &EncryptedRecord{
		Ciphertext:    aesgcm.Seal(nil, iv, plaintext, nil),
		IV:            iv,
		Salt:          salt,
		FormatVersion: FormatVersionAESGCM,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decrypt re-derives the key from the record's salt and opens the ciphertext.
// Tampered or corrupted records, and records with an unsupported format
// version, fail with common.ErrDecryptionFailure.
func (e *Engine) Decrypt(ctx context.Context, rec *EncryptedRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", common.ErrDecryptionFailure)
	}
	if rec.FormatVersion != FormatVersionAESGCM {
		return nil, fmt.Errorf("%w: unsupported format version %q", common.ErrDecryptionFailure, rec.FormatVersion)
	}

	key, err := e.key(ctx, rec.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving key: %v", common.ErrDecryptionFailure, err)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailure, err)
	}

	plaintext, err := aesgcm.Open(nil, rec.IV, rec.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", common.ErrDecryptionFailure)
	}
	return plaintext, nil
}

// VerifyIntegrity attempts decryption and reports the outcome instead of
// propagating errors. Used by audit scans.
func (e *Engine) VerifyIntegrity(ctx context.Context, rec *EncryptedRecord) bool {
	_, err := e.Decrypt(ctx, rec)
	return err == nil
}

// ClearKeyCache wipes and drops all cached derived keys. Called when
// sensitive operations complete or on explicit lock-down.
func (e *Engine) ClearKeyCache() {
	e.cache.clear()
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
