// Package identity owns the user entity lifecycle, the per-purpose consent
// ledger, short-lived sessions, and the validation rules layered on them.
// User records are read and written through the encrypted store, migrating
// stale records forward before use.
package identity

import "time"

// CurrentDataVersion is the schema version new and migrated user records
// carry.
const CurrentDataVersion = "1.2"

// UserType discriminates the User union.
type UserType string

const (
	UserTypeAnonymous  UserType = "anonymous"
	UserTypeRegistered UserType = "registered"
)

// DeviceInfo describes the installation in aggregate-safe terms.
type DeviceInfo struct {
	Platform    string `json:"platform"`
	DeviceClass string `json:"deviceClass"`
	Language    string `json:"language"`
}

// Preferences are the user-tunable settings persisted with the record.
type Preferences struct {
	Theme             string `json:"theme"`
	Language          string `json:"language"`
	DataRetentionDays int    `json:"dataRetentionDays"`
	HistoryEnabled    bool   `json:"historyEnabled"`
}

// DefaultPreferences returns the seed preferences for a new anonymous user.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:             "system",
		Language:          "en",
		DataRetentionDays: 365,
		HistoryEnabled:    true,
	}
}

// SyncSettings configures cross-device sync. The core exposes the flag and
// settings; the sync transport itself lives elsewhere.
type SyncSettings struct {
	Devices      []string   `json:"devices"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// RegisteredProfile is the payload a User gains on upgrade. It is present
// exactly when Type is UserTypeRegistered.
type RegisteredProfile struct {
	Email            string        `json:"email"`
	EmailVerified    bool          `json:"emailVerified"`
	RegistrationDate time.Time     `json:"registrationDate"`
	SyncEnabled      bool          `json:"syncEnabled"`
	SyncSettings     *SyncSettings `json:"syncSettings,omitempty"`
}

// User is a tagged union: Type selects the variant and Registered carries the
// registered-only payload. The id never changes across the
// anonymous-to-registered upgrade and is never reused.
type User struct {
	ID                string                      `json:"id"`
	Type              UserType                    `json:"type"`
	CreatedAt         time.Time                   `json:"createdAt"`
	LastActiveAt      time.Time                   `json:"lastActiveAt"`
	DataVersion       string                      `json:"dataVersion"`
	DeviceFingerprint string                      `json:"deviceFingerprint"`
	DeviceInfo        DeviceInfo                  `json:"deviceInfo"`
	Preferences       Preferences                 `json:"preferences"`
	ConsentSettings   map[Purpose]*ConsentRecord  `json:"consentSettings"`
	Registered        *RegisteredProfile          `json:"registered,omitempty"`
}

// Session is an ephemeral login context. It is deleted on expiry detection or
// explicit destroy and never outlives its own store entry.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActiveAt      time.Time `json:"lastActiveAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
