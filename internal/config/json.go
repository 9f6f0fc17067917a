package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/calcwerk/vaultcore/internal/flagx"
	"github.com/calcwerk/vaultcore/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify lifetimes either as strings like "30m"
// or as integer nanoseconds. Pointer fields distinguish "absent" from
// zero-valued, so a partial file only overrides what it names.
type JsonConfig struct {
	Backend              *string         `json:"backend"`
	DatabaseDSN          *string         `json:"database_dsn"`
	Namespace            *string         `json:"namespace"`
	EncryptionEnabled    *bool           `json:"encryption_enabled"`
	PassphraseUnlock     *bool           `json:"passphrase_unlock"`
	SessionTTL           *timex.Duration `json:"session_ttl"`
	VerificationTokenTTL *timex.Duration `json:"verification_token_ttl"`
	S3RootUser           *string         `json:"s3_root_user"`
	S3RootPassword       *string         `json:"s3_root_password"`
	S3Bucket             *string         `json:"s3_bucket"`
	S3Region             *string         `json:"s3_region"`
	S3BaseEndpoint       *string         `json:"s3_base_endpoint"`
	S3Prefix             *string         `json:"s3_prefix"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags; when absent, nothing is loaded.
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&cfg.Backend, jc.Backend)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.Namespace, jc.Namespace)
	setString(&cfg.S3RootUser, jc.S3RootUser)
	setString(&cfg.S3RootPassword, jc.S3RootPassword)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3Prefix, jc.S3Prefix)

	if jc.EncryptionEnabled != nil {
		cfg.EncryptionEnabled = *jc.EncryptionEnabled
	}
	if jc.PassphraseUnlock != nil {
		cfg.PassphraseUnlock = *jc.PassphraseUnlock
	}
	if jc.SessionTTL != nil {
		cfg.SessionTTL = time.Duration(jc.SessionTTL.Duration)
	}
	if jc.VerificationTokenTTL != nil {
		cfg.VerificationTokenTTL = time.Duration(jc.VerificationTokenTTL.Duration)
	}
}
