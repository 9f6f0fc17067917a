package vaultd

import (
	"os"

	"golang.org/x/term"
)

// readPassphrase is a test seam for term.ReadPassword.
var readPassphrase = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}
