package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/calcwerk/vaultcore/internal/cryptox"
	"github.com/calcwerk/vaultcore/internal/logging"
	"github.com/calcwerk/vaultcore/internal/migrate"
	"github.com/calcwerk/vaultcore/internal/shared"
	"github.com/calcwerk/vaultcore/internal/store"
	"github.com/google/uuid"
)

const (
	userKeyPrefix    = "user:"
	sessionKeyPrefix = "session:"
	verifyKeyPrefix  = "verify:"
)

// Options tune the manager's time-boxed artifacts.
type Options struct {
	SessionTTL           time.Duration
	VerificationTokenTTL time.Duration
}

// DefaultOptions returns the standard lifetimes: half-hour sessions and
// day-long verification tokens.
func DefaultOptions() Options {
	return Options{
		SessionTTL:           30 * time.Minute,
		VerificationTokenTTL: 24 * time.Hour,
	}
}

// EmailVerification is the result of SendEmailVerification.
type EmailVerification struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Export is the GDPR right-to-access envelope: everything the core holds
// about one user, in clear form.
type Export struct {
	ExportID   string     `json:"exportId"`
	CreatedAt  time.Time  `json:"createdAt"`
	User       *User      `json:"user"`
	Sessions   []*Session `json:"sessions"`
	StoredKeys []string   `json:"storedKeys"`
}

// ServiceStats aggregates manager, store, and migration counters.
type ServiceStats struct {
	TotalUsers     int           `json:"totalUsers"`
	ActiveSessions int           `json:"activeSessions"`
	Store          *store.Stats  `json:"store"`
	Migrations     migrate.Stats `json:"migrations"`
}

// Manager is the sole writer of user records. All mutation of a given user
// flows through a per-id lock, preserving the single-writer-per-key model.
type Manager struct {
	store     *store.Store
	migrator  *migrate.Engine
	validator *Validator
	secrets   *cryptox.SecretProvider
	log       logging.Logger

	sessionTTL time.Duration
	verifyTTL  time.Duration

	// now is swappable in tests.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires the identity layer over the encrypted store.
func NewManager(s *store.Store, migrator *migrate.Engine, secrets *cryptox.SecretProvider, log logging.Logger, opts Options) *Manager {
	if opts.SessionTTL == 0 {
		opts.SessionTTL = DefaultOptions().SessionTTL
	}
	if opts.VerificationTokenTTL == 0 {
		opts.VerificationTokenTTL = DefaultOptions().VerificationTokenTTL
	}
	return &Manager{
		store:      s,
		migrator:   migrator,
		validator:  NewValidator(),
		secrets:    secrets,
		log:        log.With("component", "identity"),
		sessionTTL: opts.SessionTTL,
		verifyTTL:  opts.VerificationTokenTTL,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockUser serializes read-modify-write sequences per user id.
func (m *Manager) lockUser(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func userKey(id string) string    { return userKeyPrefix + id }
func sessionKey(id string) string { return sessionKeyPrefix + id }
func verifyKey(jti string) string { return verifyKeyPrefix + jti }

// CreateAnonymousUser generates a stable id and device fingerprint, seeds
// default preferences and consent, and persists the record.
func (m *Manager) CreateAnonymousUser(ctx context.Context, prefOverrides *Preferences) (*User, error) {
	fingerprint, err := shared.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("generating fingerprint: %w", err)
	}

	now := m.now()
	prefs := DefaultPreferences()
	if prefOverrides != nil {
		prefs = *prefOverrides
	}

	u := &User{
		ID:                uuid.NewString(),
		Type:              UserTypeAnonymous,
		CreatedAt:         now,
		LastActiveAt:      now,
		DataVersion:       CurrentDataVersion,
		DeviceFingerprint: fingerprint,
		DeviceInfo: DeviceInfo{
			Platform:    runtime.GOOS,
			DeviceClass: "desktop",
			Language:    prefs.Language,
		},
		Preferences:     prefs,
		ConsentSettings: defaultConsentSettings(now),
	}

	if err := m.persistUser(ctx, u); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "anonymous user created", "user_id", u.ID)
	return u, nil
}

// GetUser loads a user record, migrating it forward first when the stored
// form is stale. The upgraded form is re-persisted before being returned.
func (m *Manager) GetUser(ctx context.Context, id string) (*User, error) {
	var rec map[string]any
	ok, err := m.store.Get(ctx, userKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, common.ErrNotFound)
	}

	if m.migrator.NeedsMigration(rec) {
		res := m.migrator.MigrateRecord(ctx, rec)
		if !res.Success {
			return nil, fmt.Errorf("migrating user %s: %w", id, res.Err)
		}
		rec = res.Record
		if err := m.store.Set(ctx, userKey(id), rec); err != nil {
			return nil, err
		}
		m.log.Info(ctx, "user record migrated",
			"user_id", id, "from", res.FromVersion, "to", res.ToVersion)
	}

	return decodeUser(rec)
}

// UpdateUser validates and persists a user record.
func (m *Manager) UpdateUser(ctx context.Context, u *User) error {
	if issues := m.validator.Validate(u); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return m.persistUser(ctx, u)
}

// DeleteUser erases the user record and every session belonging to it.
// This is a terminal transition; ids are never reused.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	unlock := m.lockUser(id)
	defer unlock()

	if err := m.store.Remove(ctx, userKey(id)); err != nil {
		return err
	}
	if err := m.removeUserSessions(ctx, id); err != nil {
		return err
	}

	ref, _ := shared.MakeRandHexString(8)
	m.log.Info(ctx, "user data erased", "user_id", id, "reference_id", ref)
	return nil
}

// UpgradeToRegistered turns an anonymous user into a registered one. The id,
// device data, and preferences survive unchanged; sync arrives disabled with
// a denied cross-device-sync consent. There is no downgrade.
func (m *Manager) UpgradeToRegistered(ctx context.Context, userID, email string) (*User, error) {
	if err := m.validator.ValidateEmail(email); err != nil {
		return nil, err
	}

	unlock := m.lockUser(userID)
	defer unlock()

	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Type == UserTypeRegistered {
		return nil, fmt.Errorf("user %s is already registered", userID)
	}

	now := m.now()
	u.Type = UserTypeRegistered
	u.LastActiveAt = now
	u.Registered = &RegisteredProfile{
		Email:            email,
		RegistrationDate: now,
		SyncEnabled:      false,
		SyncSettings:     nil,
	}
	if u.ConsentSettings == nil {
		u.ConsentSettings = make(map[Purpose]*ConsentRecord)
	}
	if _, ok := u.ConsentSettings[PurposeCrossDeviceSync]; !ok {
		u.ConsentSettings[PurposeCrossDeviceSync] = newCrossDeviceSyncConsent(now)
	}

	if err := m.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "user upgraded to registered", "user_id", u.ID)
	return u, nil
}

// UpdateConsent mutates the named purpose's consent record with a fresh
// status and timestamp. The record is loaded through GetUser, so a stale
// record is migrated before its consent block is touched.
func (m *Manager) UpdateConsent(ctx context.Context, userID string, purpose Purpose, granted bool, source string) (*User, error) {
	unlock := m.lockUser(userID)
	defer unlock()

	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.ConsentSettings == nil {
		u.ConsentSettings = make(map[Purpose]*ConsentRecord)
	}
	if source == "" {
		source = "user"
	}

	now := m.now()
	rec, ok := u.ConsentSettings[purpose]
	if !ok || rec == nil {
		rec = &ConsentRecord{
			LegalBasis:    BasisConsent,
			Purposes:      []Purpose{purpose},
			RetentionDays: u.Preferences.DataRetentionDays,
			PolicyVersion: DefaultPolicyVersion,
		}
		u.ConsentSettings[purpose] = rec
	}

	switch {
	case granted:
		rec.Status = ConsentGranted
	case rec.Status == ConsentGranted:
		rec.Status = ConsentWithdrawn
	default:
		rec.Status = ConsentDenied
	}

	// Status transitions are monotonically timestamped.
	if now.Before(rec.Timestamp) {
		now = rec.Timestamp
	}
	rec.Timestamp = now
	rec.Source = source
	u.LastActiveAt = m.now()

	if err := m.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "consent updated",
		"user_id", userID, "purpose", purpose, "status", rec.Status, "source", source)
	return u, nil
}

// HasConsentForPurpose reports whether the purpose is currently granted.
func (m *Manager) HasConsentForPurpose(u *User, purpose Purpose) bool {
	return HasConsentForPurpose(u, purpose)
}

// SetSyncEnabled toggles cross-device sync for a registered user. Enabling
// requires a granted cross_device_sync consent, otherwise the call fails
// with ErrConsentRequired.
func (m *Manager) SetSyncEnabled(ctx context.Context, userID string, enabled bool) (*User, error) {
	unlock := m.lockUser(userID)
	defer unlock()

	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Type != UserTypeRegistered || u.Registered == nil {
		return nil, common.ErrEmailRequired
	}
	if enabled && !HasConsentForPurpose(u, PurposeCrossDeviceSync) {
		return nil, fmt.Errorf("%w: %s not granted", common.ErrConsentRequired, PurposeCrossDeviceSync)
	}

	u.Registered.SyncEnabled = enabled
	if enabled && u.Registered.SyncSettings == nil {
		u.Registered.SyncSettings = &SyncSettings{}
	}
	u.LastActiveAt = m.now()

	if err := m.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "sync setting changed", "user_id", userID, "enabled", enabled)
	return u, nil
}

// SendEmailVerification mints a time-boxed, single-use verification token
// for a registered user. The token record lives apart from the user record.
func (m *Manager) SendEmailVerification(ctx context.Context, userID string) (*EmailVerification, error) {
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Type != UserTypeRegistered {
		return nil, common.ErrEmailRequired
	}

	token, rec, err := m.mintVerificationToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, verifyKey(rec.TokenID), rec); err != nil {
		return nil, err
	}

	m.log.Info(ctx, "email verification issued", "user_id", userID, "expires_at", rec.ExpiresAt)
	return &EmailVerification{Success: true, Token: token, ExpiresAt: rec.ExpiresAt}, nil
}

// VerifyEmail redeems a verification token: expired tokens fail with
// ErrTokenExpired, redeemed or unknown ones with ErrInvalidToken. On success
// the user is marked verified and the token record is deleted (single use).
func (m *Manager) VerifyEmail(ctx context.Context, token string) (*User, error) {
	claims, err := m.parseVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var rec verificationRecord
	ok, err := m.store.Get(ctx, verifyKey(claims.ID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidToken
	}
	if m.now().After(rec.ExpiresAt) {
		_ = m.store.Remove(ctx, verifyKey(claims.ID))
		return nil, common.ErrTokenExpired
	}

	unlock := m.lockUser(rec.UserID)
	defer unlock()

	u, err := m.GetUser(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if u.Registered == nil {
		return nil, common.ErrInvalidToken
	}

	u.Registered.EmailVerified = true
	u.LastActiveAt = m.now()
	if err := m.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	if err := m.store.Remove(ctx, verifyKey(claims.ID)); err != nil {
		return nil, err
	}

	m.log.Info(ctx, "email verified", "user_id", u.ID)
	return u, nil
}

// CreateSession opens a session for an existing user.
func (m *Manager) CreateSession(ctx context.Context, userID string) (*Session, error) {
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	id, err := shared.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := m.now()
	sess := &Session{
		ID:                id,
		UserID:            u.ID,
		CreatedAt:         now,
		LastActiveAt:      now,
		ExpiresAt:         now.Add(m.sessionTTL),
		DeviceFingerprint: u.DeviceFingerprint,
	}
	if err := m.store.Set(ctx, sessionKey(id), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ValidateSession refreshes and persists a live session's last-active time.
// Expired sessions are deleted and reported as invalid.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	var sess Session
	ok, err := m.store.Get(ctx, sessionKey(sessionID), &sess)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if sess.Expired(m.now()) {
		if err := m.store.Remove(ctx, sessionKey(sessionID)); err != nil {
			return false, err
		}
		return false, nil
	}

	sess.LastActiveAt = m.now()
	if err := m.store.Set(ctx, sessionKey(sessionID), &sess); err != nil {
		return false, err
	}
	return true, nil
}

// DestroySession removes a session regardless of its state.
func (m *Manager) DestroySession(ctx context.Context, sessionID string) error {
	return m.store.Remove(ctx, sessionKey(sessionID))
}

func (m *Manager) removeUserSessions(ctx context.Context, userID string) error {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, sessionKeyPrefix) {
			continue
		}
		var sess Session
		ok, err := m.store.Get(ctx, key, &sess)
		if err != nil {
			return err
		}
		if ok && sess.UserID == userID {
			if err := m.store.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// NeedsDataCleanup reports whether the user's inactivity exceeds their
// retention preference. An external scheduler acts on the result.
func (m *Manager) NeedsDataCleanup(u *User, now time.Time) bool {
	retention := time.Duration(u.Preferences.DataRetentionDays) * 24 * time.Hour
	return now.Sub(u.LastActiveAt) > retention
}

// AnonymizeUserData replaces the user with an anonymous twin: fresh opaque
// id and fingerprint, identifying fields stripped, aggregate-safe fields
// (creation date, device class, schema version, preferences) preserved. The
// original record and its sessions are erased.
func (m *Manager) AnonymizeUserData(ctx context.Context, u *User) (*User, error) {
	fingerprint, err := shared.MakeRandHexString(16)
	if err != nil {
		return nil, fmt.Errorf("generating fingerprint: %w", err)
	}

	anon := &User{
		ID:                uuid.NewString(),
		Type:              UserTypeAnonymous,
		CreatedAt:         u.CreatedAt,
		LastActiveAt:      u.LastActiveAt,
		DataVersion:       u.DataVersion,
		DeviceFingerprint: fingerprint,
		DeviceInfo:        u.DeviceInfo,
		Preferences:       u.Preferences,
		ConsentSettings:   u.ConsentSettings,
	}

	if err := m.persistUser(ctx, anon); err != nil {
		return nil, err
	}
	if err := m.DeleteUser(ctx, u.ID); err != nil {
		return nil, err
	}

	m.log.Info(ctx, "user data anonymized", "user_id", anon.ID)
	return anon, nil
}

// ExportUserData collects everything held about one user into a clear-form
// envelope (right to access).
func (m *Manager) ExportUserData(ctx context.Context, userID string) (*Export, error) {
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	storedKeys := []string{userKey(userID)}
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, sessionKeyPrefix) {
			continue
		}
		var sess Session
		ok, err := m.store.Get(ctx, key, &sess)
		if err != nil {
			return nil, err
		}
		if ok && sess.UserID == userID {
			s := sess
			sessions = append(sessions, &s)
			storedKeys = append(storedKeys, key)
		}
	}

	exportID, err := shared.MakeRandHexString(8)
	if err != nil {
		return nil, err
	}
	return &Export{
		ExportID:   "export_" + exportID,
		CreatedAt:  m.now(),
		User:       u,
		Sessions:   sessions,
		StoredKeys: storedKeys,
	}, nil
}

// GetServiceStats aggregates user/session counts with store and migration
// statistics.
func (m *Manager) GetServiceStats(ctx context.Context) (*ServiceStats, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ServiceStats{Migrations: m.migrator.GetStats()}
	for _, key := range keys {
		switch {
		case strings.HasPrefix(key, userKeyPrefix):
			stats.TotalUsers++
		case strings.HasPrefix(key, sessionKeyPrefix):
			stats.ActiveSessions++
		}
	}

	stats.Store, err = m.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (m *Manager) persistUser(ctx context.Context, u *User) error {
	return m.store.Set(ctx, userKey(u.ID), u)
}

func decodeUser(rec map[string]any) (*User, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("decoding user record: %w", err)
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user record: %w", err)
	}
	return &u, nil
}
