// Package common defines shared sentinel errors used across the vault core.
// Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Crypto errors. ErrCryptoUnavailable is fatal and surfaced at
	// initialization; the other two are recoverable by the store.
	ErrCryptoUnavailable = errors.New("crypto unavailable")
	ErrEncryptionFailure = errors.New("encryption failure")
	ErrDecryptionFailure = errors.New("decryption failure")

	// Persistence backend errors. Never conflated with crypto failures:
	// a failed write aborts, it does not fall back.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Migration errors. A record hit by either stays at its stored version.
	ErrNoMigrationPath  = errors.New("no migration path")
	ErrInvalidDirection = errors.New("invalid migration direction")

	// Validation errors are collected per field; this sentinel is what the
	// collected ValidationError unwraps to.
	ErrValidationFailure = errors.New("validation failure")

	// User-facing identity errors, propagated verbatim.
	ErrInvalidEmail    = errors.New("invalid email")
	ErrEmailRequired   = errors.New("email required")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidToken    = errors.New("invalid token")
	ErrConsentRequired = errors.New("consent required")
)
