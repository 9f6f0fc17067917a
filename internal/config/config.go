// Package config handles configuration for the vault daemon, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Backend kinds selectable via configuration.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config holds runtime settings for the vault core.
//
// Fields:
//   - Backend: raw persistence backend ("memory", "sqlite", or "s3").
//   - DatabaseDSN: SQLite database path (for the sqlite backend).
//   - Namespace: key namespace of this installation's store.
//   - EncryptionEnabled: whether values are sealed before hitting the backend.
//   - PassphraseUnlock: derive the device secret from an interactive
//     passphrase instead of generating one.
//   - SessionTTL / VerificationTokenTTL: identity artifact lifetimes.
//   - S3RootUser / S3RootPassword: credentials for the S3-compatible backend.
//   - S3Bucket / S3Region / S3BaseEndpoint / S3Prefix: object storage settings.
type Config struct {
	Backend              string
	DatabaseDSN          string
	Namespace            string
	EncryptionEnabled    bool
	PassphraseUnlock     bool
	SessionTTL           time.Duration
	VerificationTokenTTL time.Duration
	S3RootUser           string
	S3RootPassword       string
	S3Bucket             string
	S3Region             string
	S3BaseEndpoint       string
	S3Prefix             string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: the S3 values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.Backend = BackendSQLite
	c.DatabaseDSN = "vaultcore.db"
	c.Namespace = "vault"
	c.EncryptionEnabled = true
	c.PassphraseUnlock = false
	c.SessionTTL = 30 * time.Minute
	c.VerificationTokenTTL = 24 * time.Hour
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.S3Prefix = "vaultcore/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
