package identity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/google/uuid"
)

// Retention-period bounds in days.
const (
	MinRetentionDays = 30
	MaxRetentionDays = 3650
)

const maxEmailLength = 254

var (
	emailPattern       = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	fingerprintPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,128}$`)
)

// Issue is one validation problem. Problems are collected, not raised one at
// a time, so a caller can report all of them at once.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError bundles the collected issues and unwraps to
// common.ErrValidationFailure for errors.Is matching.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	fields := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		fields[i] = issue.Field
	}
	return fmt.Sprintf("validation failed for %s", strings.Join(fields, ", "))
}

func (e *ValidationError) Unwrap() error { return common.ErrValidationFailure }

// Validator checks user records for structural integrity. The checks apply
// to every schema version, so blocks a version does not carry yet (consent,
// sync settings) are only checked when present.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate collects every problem with u.
func (v *Validator) Validate(u *User) []Issue {
	var issues []Issue
	add := func(field, code, message string) {
		issues = append(issues, Issue{Field: field, Code: code, Message: message})
	}

	if _, err := uuid.Parse(u.ID); err != nil {
		add("id", "invalid_format", "id must be a valid UUID")
	}

	switch u.Type {
	case UserTypeAnonymous:
		if u.Registered != nil {
			add("type", "variant_mismatch", "anonymous user must not carry a registered profile")
		}
	case UserTypeRegistered:
		if u.Registered == nil {
			add("type", "variant_mismatch", "registered user must carry a registered profile")
		}
	default:
		add("type", "unknown_variant", fmt.Sprintf("unknown user type %q", u.Type))
	}

	if u.DeviceFingerprint == "" {
		add("deviceFingerprint", "required", "device fingerprint is required")
	} else if !fingerprintPattern.MatchString(u.DeviceFingerprint) {
		add("deviceFingerprint", "invalid_format", "device fingerprint has invalid length or charset")
	}

	if u.CreatedAt.IsZero() {
		add("createdAt", "required", "creation time is required")
	} else if u.LastActiveAt.Before(u.CreatedAt) {
		add("lastActiveAt", "out_of_order", "last-active time precedes creation time")
	}

	if d := u.Preferences.DataRetentionDays; d < MinRetentionDays || d > MaxRetentionDays {
		add("preferences.dataRetentionDays", "out_of_bounds",
			fmt.Sprintf("retention must be between %d and %d days", MinRetentionDays, MaxRetentionDays))
	}

	if u.Registered != nil {
		issues = append(issues, v.validateRegistered(u)...)
	}

	for purpose, rec := range u.ConsentSettings {
		if rec == nil {
			add("consentSettings."+string(purpose), "required", "consent record must not be null")
			continue
		}
		if rec.LegalBasis == BasisLegitimateInterest && rec.Status == ConsentPending {
			add("consentSettings."+string(purpose), "invalid_status",
				"legitimate-interest purpose cannot be pending")
		}
	}

	return issues
}

func (v *Validator) validateRegistered(u *User) []Issue {
	var issues []Issue
	add := func(field, code, message string) {
		issues = append(issues, Issue{Field: field, Code: code, Message: message})
	}
	reg := u.Registered

	if reg.Email == "" {
		add("email", "required", "email is required for registered users")
	} else {
		if len(reg.Email) > maxEmailLength {
			add("email", "too_long", "email exceeds maximum length")
		}
		if !emailPattern.MatchString(reg.Email) {
			add("email", "invalid_format", "email has invalid format")
		}
	}

	if !reg.RegistrationDate.IsZero() && reg.RegistrationDate.Before(u.CreatedAt) {
		add("registrationDate", "out_of_order", "registration date precedes creation time")
	}

	if reg.SyncEnabled {
		if reg.SyncSettings == nil {
			add("syncSettings", "required", "sync settings are required when sync is enabled")
		}
		if !HasConsentForPurpose(u, PurposeCrossDeviceSync) {
			add("syncEnabled", "consent_required", "sync requires granted cross-device-sync consent")
		}
	}

	return issues
}

// ValidateEmail checks just the email field the way Validate does, for use
// before an upgrade. It returns common.ErrEmailRequired or
// common.ErrInvalidEmail.
func (v *Validator) ValidateEmail(email string) error {
	if email == "" {
		return common.ErrEmailRequired
	}
	if len(email) > maxEmailLength || !emailPattern.MatchString(email) {
		return common.ErrInvalidEmail
	}
	return nil
}

// ValidateRecord adapts Validate to the migration engine: the decoded-JSON
// record is reshaped into a User and checked, returning a ValidationError
// when issues were found.
func (v *Validator) ValidateRecord(rec map[string]any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("reshaping record: %w", err)
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("reshaping record: %w", err)
	}
	if issues := v.Validate(&u); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
