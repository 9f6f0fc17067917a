package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/calcwerk/vaultcore/internal/cryptox"
	"github.com/calcwerk/vaultcore/internal/logging"
)

// StoredItem is the framing written to a backend for every value. When
// Encrypted is true, Value holds the JSON form of a cryptox.EncryptedRecord;
// otherwise it holds the plaintext-serialized value.
type StoredItem struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Encrypted bool            `json:"encrypted"`
	StoredAt  time.Time       `json:"storedAt"`
}

// Stats aggregates bulk statistics over the store's namespace.
type Stats struct {
	TotalItems       int       `json:"totalItems"`
	TotalSize        int       `json:"totalSize"`
	EncryptedItems   int       `json:"encryptedItems"`
	OldestItem       time.Time `json:"oldestItem"`
	NewestItem       time.Time `json:"newestItem"`
	EncryptionStatus bool      `json:"encryptionStatus"`
}

// IntegrityReport is the result of a read-only audit scan.
type IntegrityReport struct {
	TotalItems       int `json:"totalItems"`
	ValidItems       int `json:"validItems"`
	CorruptedItems   int `json:"corruptedItems"`
	EncryptionErrors int `json:"encryptionErrors"`
}

// Cipher is the slice of the cipher engine the store depends on.
// *cryptox.Engine satisfies it.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (*cryptox.EncryptedRecord, error)
	Decrypt(ctx context.Context, rec *cryptox.EncryptedRecord) ([]byte, error)
	VerifyIntegrity(ctx context.Context, rec *cryptox.EncryptedRecord) bool
}

// Store is a namespaced, optionally-encrypted key-value map over a raw
// persistence backend.
type Store struct {
	backend   RawBackend
	cipher    Cipher
	log       logging.Logger
	namespace string

	mu        sync.RWMutex
	encalways bool
}

// New returns a Store scoped to namespace. When encrypt is true, values are
// sealed through the cipher engine before hitting the backend.
func New(backend RawBackend, cipher Cipher, log logging.Logger, namespace string, encrypt bool) *Store {
	return &Store{
		backend:   backend,
		cipher:    cipher,
		log:       log.With("component", "store", "namespace", namespace),
		namespace: namespace,
		encalways: encrypt,
	}
}

func (s *Store) prefixed(key string) string {
	return s.namespace + ":" + key
}

func (s *Store) encryptionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encalways
}

// EncryptionEnabled reports whether new writes are encrypted.
func (s *Store) EncryptionEnabled() bool { return s.encryptionEnabled() }

// Set serializes value, encrypts it when encryption is enabled, and writes a
// StoredItem to the backend. On encryption failure the plaintext-serialized
// value is stored tagged as unencrypted (a write is never silently dropped);
// the degraded mode is logged. Backend failures abort the write.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing value for %q: %w", key, err)
	}

	item, err := s.buildItem(ctx, key, plaintext)
	if err != nil {
		return err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("serializing item for %q: %w", key, err)
	}
	return s.backend.RawSet(ctx, s.prefixed(key), data)
}

func (s *Store) buildItem(ctx context.Context, key string, plaintext []byte) (*StoredItem, error) {
	item := &StoredItem{Key: key, StoredAt: time.Now().UTC()}

	if !s.encryptionEnabled() {
		item.Value = plaintext
		return item, nil
	}

	rec, err := s.cipher.Encrypt(ctx, plaintext)
	if err != nil {
		s.log.Warn(ctx, "encryption failed, storing plaintext", "key", key, "error", err)
		item.Value = plaintext
		return item, nil
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn(ctx, "encryption failed, storing plaintext", "key", key, "error", err)
		item.Value = plaintext
		return item, nil
	}

	item.Value = encoded
	item.Encrypted = true
	return item, nil
}

// Get reads the item for key and unmarshals its value into dst. It returns
// false when the key is absent. An item that cannot be decrypted or parsed is
// deleted and reported as absent: undecryptable bytes never reach a caller.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := s.backend.RawGet(ctx, s.prefixed(key))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	plaintext, err := s.openItem(ctx, data)
	if err != nil {
		s.log.Warn(ctx, "removing corrupted item", "key", key, "error", err)
		if remErr := s.backend.RawRemove(ctx, s.prefixed(key)); remErr != nil {
			return false, remErr
		}
		return false, nil
	}

	if err := json.Unmarshal(plaintext, dst); err != nil {
		return false, fmt.Errorf("deserializing value for %q: %w", key, err)
	}
	return true, nil
}

// openItem unwraps the StoredItem framing and returns the plaintext value.
func (s *Store) openItem(ctx context.Context, data []byte) ([]byte, error) {
	var item StoredItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("%w: malformed item framing", common.ErrDecryptionFailure)
	}
	if !item.Encrypted {
		return item.Value, nil
	}

	var rec cryptox.EncryptedRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed encrypted record", common.ErrDecryptionFailure)
	}
	return s.cipher.Decrypt(ctx, &rec)
}

// Remove deletes the item for key.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.backend.RawRemove(ctx, s.prefixed(key))
}

// Keys lists the store's keys, namespace prefix stripped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.backend.RawKeys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := s.namespace + ":"
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

// GetStats scans the namespace and aggregates item counts, stored size, and
// timestamp bounds.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{EncryptionStatus: s.encryptionEnabled()}
	for _, key := range keys {
		data, ok, err := s.backend.RawGet(ctx, s.prefixed(key))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var item StoredItem
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}

		stats.TotalItems++
		stats.TotalSize += len(data)
		if item.Encrypted {
			stats.EncryptedItems++
		}
		if stats.OldestItem.IsZero() || item.StoredAt.Before(stats.OldestItem) {
			stats.OldestItem = item.StoredAt
		}
		if item.StoredAt.After(stats.NewestItem) {
			stats.NewestItem = item.StoredAt
		}
	}
	return stats, nil
}

// VerifyIntegrity scans every item, attempting decrypt-if-encrypted, and
// aggregates counts without mutating state. Scanning stops between items if
// ctx is cancelled.
func (s *Store) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		data, ok, err := s.backend.RawGet(ctx, s.prefixed(key))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		report.TotalItems++

		var item StoredItem
		if err := json.Unmarshal(data, &item); err != nil {
			report.CorruptedItems++
			continue
		}

		if !item.Encrypted {
			report.ValidItems++
			continue
		}

		var rec cryptox.EncryptedRecord
		if err := json.Unmarshal(item.Value, &rec); err != nil {
			report.CorruptedItems++
			continue
		}
		if s.cipher.VerifyIntegrity(ctx, &rec) {
			report.ValidItems++
		} else {
			report.CorruptedItems++
			report.EncryptionErrors++
		}
	}
	return report, nil
}

// EnableEncryption turns encryption on and re-writes every existing plaintext
// item through the cipher engine.
func (s *Store) EnableEncryption(ctx context.Context) error {
	s.setEncryption(true)
	return s.rewriteAll(ctx)
}

// DisableEncryption turns encryption off and re-writes every encrypted item
// back to its plaintext-serialized form.
func (s *Store) DisableEncryption(ctx context.Context) error {
	s.setEncryption(false)
	return s.rewriteAll(ctx)
}

func (s *Store) setEncryption(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encalways = on
}

// rewriteAll converts every item to the current encryption mode, atomically
// per item. Items that cannot be opened are skipped and logged, not
// destroyed.
func (s *Store) rewriteAll(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}

	var converted, skipped int
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.rewriteItem(ctx, key); err != nil {
			if errors.Is(err, common.ErrStorageUnavailable) {
				return err
			}
			s.log.Warn(ctx, "skipping unconvertible item", "key", key, "error", err)
			skipped++
			continue
		}
		converted++
	}

	s.log.Info(ctx, "encryption mode rewrite complete",
		"encrypted", s.encryptionEnabled(), "converted", converted, "skipped", skipped)
	return nil
}

func (s *Store) rewriteItem(ctx context.Context, key string) error {
	convert := func(data []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, fmt.Errorf("item %q vanished during rewrite", key)
		}
		plaintext, err := s.openItem(ctx, data)
		if err != nil {
			return nil, err
		}
		item, err := s.buildItem(ctx, key, plaintext)
		if err != nil {
			return nil, err
		}
		return json.Marshal(item)
	}

	if up, ok := s.backend.(AtomicUpdater); ok {
		return up.RawUpdate(ctx, s.prefixed(key), convert)
	}

	// Fallback for backends without atomic read-modify-write: a single
	// RawSet still replaces the item wholly.
	data, ok, err := s.backend.RawGet(ctx, s.prefixed(key))
	if err != nil {
		return err
	}
	next, err := convert(data, ok)
	if err != nil {
		return err
	}
	return s.backend.RawSet(ctx, s.prefixed(key), next)
}
