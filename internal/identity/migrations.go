package identity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/calcwerk/vaultcore/internal/logging"
	"github.com/calcwerk/vaultcore/internal/migrate"
)

// NewMigrationEngine builds the migration engine for user records: targeted
// at CurrentDataVersion, validated with the identity validator after every
// step, with the full version chain registered.
func NewMigrationEngine(log logging.Logger) *migrate.Engine {
	v := NewValidator()
	e := migrate.NewEngine(CurrentDataVersion, v.ValidateRecord, log)
	RegisterUserMigrations(e)
	return e
}

// RegisterUserMigrations registers the user-record version chain on e.
// Each application release adds one small transform here instead of an
// all-pairs conversion matrix.
func RegisterUserMigrations(e *migrate.Engine) {
	e.Register("1.0", "1.1", addConsentBlock)
	e.Register("1.1", "1.2", addSyncBlock)
}

// addConsentBlock (1.0 -> 1.1) introduces the per-purpose consent ledger.
// Records predating it get the same defaults a new anonymous user gets.
func addConsentBlock(rec map[string]any) (map[string]any, error) {
	if _, ok := rec["consentSettings"]; !ok {
		block, err := toJSONValue(defaultConsentSettings(time.Now().UTC()))
		if err != nil {
			return nil, fmt.Errorf("building consent block: %w", err)
		}
		rec["consentSettings"] = block
	}
	return rec, nil
}

// addSyncBlock (1.1 -> 1.2) introduces cross-device sync: registered users
// gain disabled sync settings, and every ledger gains a denied
// cross-device-sync entry.
func addSyncBlock(rec map[string]any) (map[string]any, error) {
	if reg, ok := rec["registered"].(map[string]any); ok && reg != nil {
		if _, ok := reg["syncEnabled"]; !ok {
			reg["syncEnabled"] = false
		}
	}

	consents, ok := rec["consentSettings"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record has no consent block")
	}
	if _, ok := consents[string(PurposeCrossDeviceSync)]; !ok {
		entry, err := toJSONValue(newCrossDeviceSyncConsent(time.Now().UTC()))
		if err != nil {
			return nil, fmt.Errorf("building sync consent entry: %w", err)
		}
		consents[string(PurposeCrossDeviceSync)] = entry
	}
	return rec, nil
}

// toJSONValue reshapes a typed value into the decoded-JSON form migration
// records use.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
