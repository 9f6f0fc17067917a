package cryptox

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/calcwerk/vaultcore/internal/shared"
)

// DeviceSecretSize is the size in bytes of a generated device secret.
const DeviceSecretSize = 32

// SecretProvider holds the device secret: the sole root of all derived keys.
// The secret is created lazily on first use, cached for the provider's
// lifetime, and never serialized in clear form.
//
// The provider is injectable so tests and the passphrase-unlock flow can
// supply a fixed secret instead of a generated one.
type SecretProvider struct {
	mu     sync.Mutex
	secret []byte
}

// NewSecretProvider returns a provider that generates the secret on first use.
func NewSecretProvider() *SecretProvider {
	return &SecretProvider{}
}

// NewSecretProviderWithSecret returns a provider seeded with an explicit
// secret. The provider takes ownership of the slice.
func NewSecretProviderWithSecret(secret []byte) *SecretProvider {
	return &SecretProvider{secret: secret}
}

// NewSecretProviderFromPassphrase derives the device secret from a user
// passphrase and a stable installation salt (typically the device
// fingerprint), so the same passphrase unlocks the same store.
func NewSecretProviderFromPassphrase(passphrase, installSalt []byte) *SecretProvider {
	return &SecretProvider{secret: deriveKey(passphrase, installSalt)}
}

// Secret returns the device secret, generating it on first call.
// It fails with common.ErrCryptoUnavailable if the platform offers no
// cryptographically secure randomness.
func (p *SecretProvider) Secret(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.secret != nil {
		return p.secret, nil
	}

	b := make([]byte, DeviceSecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}
	p.secret = b
	return p.secret, nil
}

// SigningKey returns a secondary key for the given label, bound to the device
// secret but never equal to it. Used for HMAC token signing.
func (p *SecretProvider) SigningKey(ctx context.Context, label string) ([]byte, error) {
	secret, err := p.Secret(ctx)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte(label))
	return h.Sum(nil), nil
}

// Wipe zeroes and drops the cached secret. A subsequent Secret call generates
// a new one, so callers that want the same secret back must re-seed.
func (p *SecretProvider) Wipe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	shared.WipeByteArray(p.secret)
	p.secret = nil
}
