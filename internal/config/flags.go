package config

import (
	"flag"
	"os"
	"time"

	"github.com/calcwerk/vaultcore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-b string   persistence backend: memory, sqlite, or s3
//	-d string   SQLite database path
//	-n string   store namespace
//	-e bool     enable value encryption
//	-p bool     derive the device secret from an interactive passphrase
//	-s int      session lifetime in minutes
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-d", "-n", "-e", "-p", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Backend, "b", cfg.Backend, "persistence backend (memory, sqlite, s3)")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "sqlite database path")
	fs.StringVar(&cfg.Namespace, "n", cfg.Namespace, "store namespace")
	fs.BoolVar(&cfg.EncryptionEnabled, "e", cfg.EncryptionEnabled, "encrypt stored values")
	fs.BoolVar(&cfg.PassphraseUnlock, "p", cfg.PassphraseUnlock, "unlock with an interactive passphrase")
	sessionMinutes := fs.Int("s", int(cfg.SessionTTL.Minutes()), "session lifetime (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SessionTTL = time.Duration(*sessionMinutes) * time.Minute
}
