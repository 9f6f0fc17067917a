package identity

import "time"

// Purpose labels why data is processed. Purpose binding allows selective
// grant and revocation without affecting other flows.
type Purpose string

const (
	PurposeFunctional      Purpose = "functional"
	PurposeAnalytics       Purpose = "analytics"
	PurposePerformance     Purpose = "performance"
	PurposeMarketing       Purpose = "marketing"
	PurposeCrossDeviceSync Purpose = "cross_device_sync"
)

// ConsentStatus is the state of a purpose's consent record.
type ConsentStatus string

const (
	ConsentGranted   ConsentStatus = "granted"
	ConsentDenied    ConsentStatus = "denied"
	ConsentPending   ConsentStatus = "pending"
	ConsentWithdrawn ConsentStatus = "withdrawn"
)

// LegalBasis names the data-protection ground a purpose is processed under.
type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
)

// DefaultPolicyVersion is recorded on consent entries created without an
// explicit policy version.
const DefaultPolicyVersion = "1.0"

// ConsentRecord captures a user's decision for one processing purpose.
// A purpose under legitimate interest can never be pending, and status
// timestamps only move forward.
type ConsentRecord struct {
	Status        ConsentStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	Source        string        `json:"source"`
	LegalBasis    LegalBasis    `json:"legalBasis"`
	Purposes      []Purpose     `json:"purposes"`
	RetentionDays int           `json:"retentionPeriod"`
	PolicyVersion string        `json:"policyVersion"`
}

// HasConsentForPurpose is a pure lookup against the user's consent ledger.
// Unknown purposes and every status other than granted resolve to false.
func HasConsentForPurpose(u *User, purpose Purpose) bool {
	if u == nil || u.ConsentSettings == nil {
		return false
	}
	rec, ok := u.ConsentSettings[purpose]
	if !ok || rec == nil {
		return false
	}
	return rec.Status == ConsentGranted
}

// defaultConsentSettings seeds the ledger for a new anonymous user:
// functional processing is pre-granted under legitimate interest, everything
// else defaults to denied and waits for an explicit opt-in.
func defaultConsentSettings(now time.Time) map[Purpose]*ConsentRecord {
	settings := map[Purpose]*ConsentRecord{
		PurposeFunctional: {
			Status:     ConsentGranted,
			LegalBasis: BasisLegitimateInterest,
		},
		PurposeAnalytics:   {Status: ConsentDenied, LegalBasis: BasisConsent},
		PurposePerformance: {Status: ConsentDenied, LegalBasis: BasisConsent},
		PurposeMarketing:   {Status: ConsentDenied, LegalBasis: BasisConsent},
	}
	for purpose, rec := range settings {
		rec.Timestamp = now
		rec.Source = "default"
		rec.Purposes = []Purpose{purpose}
		rec.RetentionDays = 365
		rec.PolicyVersion = DefaultPolicyVersion
	}
	return settings
}

// newCrossDeviceSyncConsent is the denied-by-default entry added when a user
// becomes sync-capable.
func newCrossDeviceSyncConsent(now time.Time) *ConsentRecord {
	return &ConsentRecord{
		Status:        ConsentDenied,
		Timestamp:     now,
		Source:        "registration",
		LegalBasis:    BasisConsent,
		Purposes:      []Purpose{PurposeCrossDeviceSync},
		RetentionDays: 365,
		PolicyVersion: DefaultPolicyVersion,
	}
}
