package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"pellucid-privacy-api/internal/metrics"
)

// tokenDigestLen is the number of hex characters kept from the HMAC digest.
// 8 hex chars (32 bits) keeps tokens compact while making accidental
// collisions between distinct values unlikely at realistic vault sizes.
const tokenDigestLen = 8

// Vault derives and remembers deterministic replacement tokens.
//
// Derivation is a pure function of (secret key, entity type, lowercased
// value): recomputable from scratch at any time. The Store exists for
// inspection/audit and to skip redundant derivation, not for correctness
// of the mapping itself. Inserts are serialized with a mutex so two
// requests discovering the same new value cannot race the persist step.
type Vault struct {
	key   []byte
	store Store

	mu      sync.Mutex // serializes check-and-insert in GetOrCreate
	metrics *metrics.Metrics
}

// NewVault creates a vault over the given store. The secret key must be
// non-empty; config.Load enforces that before a Vault is ever constructed.
func NewVault(secretKey []byte, store Store, m *metrics.Metrics) *Vault {
	return &Vault{key: secretKey, store: store, metrics: m}
}

// vaultKey normalizes (entity type, original value) into the store key.
// Lowercasing makes the mapping case-insensitive over original values.
func vaultKey(entityType EntityType, original string) string {
	return string(entityType) + ":" + strings.ToLower(original)
}

// DeriveToken computes the deterministic replacement token for a value:
// the keyed HMAC-SHA256 digest of the normalized key, truncated to
// tokenDigestLen hex characters and wrapped as <TYPE:digest>.
// Pure and stateless given the key.
func (v *Vault) DeriveToken(entityType EntityType, original string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(vaultKey(entityType, original)))
	digest := hex.EncodeToString(mac.Sum(nil))[:tokenDigestLen]
	return fmt.Sprintf("<%s:%s>", entityType, digest)
}

// GetOrCreate returns the stored token for the value, deriving and
// persisting it on first encounter. The returned token is always valid;
// a non-nil error means the new entry could not be persisted and is not
// durable across restarts (derivation being key-pure, a later retry will
// produce the identical token).
func (v *Vault) GetOrCreate(entityType EntityType, original string) (string, error) {
	key := vaultKey(entityType, original)

	if token, ok := v.store.Get(key); ok {
		if v.metrics != nil {
			v.metrics.RecordVaultHit(string(entityType))
		}
		return token, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// Re-check under the lock: a concurrent caller may have inserted the
	// same key between the lookup above and acquiring the mutex.
	if token, ok := v.store.Get(key); ok {
		if v.metrics != nil {
			v.metrics.RecordVaultHit(string(entityType))
		}
		return token, nil
	}

	token := v.DeriveToken(entityType, original)
	if v.metrics != nil {
		v.metrics.RecordVaultMiss(string(entityType))
	}
	if err := v.store.Put(key, token); err != nil {
		if v.metrics != nil {
			v.metrics.ErrorsPersist.Add(1)
		}
		return token, fmt.Errorf("persist vault entry %s: %w", key, err)
	}
	return token, nil
}

// Size returns the number of mappings in the vault.
func (v *Vault) Size() int {
	return v.store.Len()
}
