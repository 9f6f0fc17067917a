package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signingKeyLabel binds verification tokens to the device secret without
// exposing the secret itself.
const signingKeyLabel = "email-verification"

// verificationClaims carry the standard claims plus the user id. The jti
// (RegisteredClaims.ID) keys the single-use record in the store.
type verificationClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// verificationRecord is the store-side half of a token: its presence makes
// the token single-use, its expiry mirrors the claim.
type verificationRecord struct {
	UserID    string    `json:"userId"`
	TokenID   string    `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (m *Manager) mintVerificationToken(ctx context.Context, userID string) (token string, rec *verificationRecord, err error) {
	key, err := m.secrets.SigningKey(ctx, signingKeyLabel)
	if err != nil {
		return "", nil, err
	}

	expiresAt := m.now().Add(m.verifyTTL)
	jti := uuid.NewString()

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, verificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	})
	signed, err := t.SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("signing verification token: %w", err)
	}

	return signed, &verificationRecord{UserID: userID, TokenID: jti, ExpiresAt: expiresAt}, nil
}

func (m *Manager) parseVerificationToken(ctx context.Context, token string) (*verificationClaims, error) {
	key, err := m.secrets.SigningKey(ctx, signingKeyLabel)
	if err != nil {
		return nil, err
	}

	claims := &verificationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
