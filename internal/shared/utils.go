// Package shared holds small helpers used across packages: random
// identifier generation and wiping of sensitive byte slices.
package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// MakeRandHexString returns a hex string built from size random bytes, so
// the result is 2*size characters long. It fails only when the platform's
// random number generator does.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray zeroes the slice in place. Used to drop key material and
// passphrases from memory once they are no longer needed. A nil slice is a
// no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
