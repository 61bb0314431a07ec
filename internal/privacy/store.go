package privacy

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Store persists the vault's key -> token mapping: normalized vault key
// ("TYPE:lowercased original") to derived token. The mapping is append-only;
// entries are written once per distinct value and never pruned or rewritten.
// All implementations must be safe for concurrent use.
//
// Two implementations exist: memoryStore (tests, or when no path is
// configured) and boltStore (embedded bbolt database, production).
type Store interface {
	// Get returns the stored token for the given vault key, if present.
	Get(key string) (token string, ok bool)

	// Put stores key → token. A returned error means the entry may not be
	// durable; callers surface this rather than pretend success.
	Put(key, token string) error

	// Len returns the number of stored mappings.
	Len() int

	// Close releases any resources held by the store (e.g. file handles).
	Close() error
}

// --- memoryStore ---------------------------------------------------------

// memoryStore is a thread-safe in-memory Store.
// Used in tests and as the backing when no vault path is configured.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[string]string)}
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.entries[key]
	s.mu.RUnlock()
	return v, ok
}

func (s *memoryStore) Put(key, token string) error {
	s.mu.Lock()
	s.entries[key] = token
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *memoryStore) Close() error { return nil }

// --- boltStore -----------------------------------------------------------

const vaultBucket = "token_vault"

// boltStore is a Store backed by an embedded bbolt database. Entries
// survive process restarts. The database file is created at the given path
// if it does not exist.
type boltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bbolt database at path and ensures
// the vault bucket exists. Returns an error if the file cannot be opened.
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open vault store %q: %w", path, err)
	}

	// Ensure the bucket exists.
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(vaultBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create vault bucket: %w", err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(key string) (string, bool) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(vaultBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false
	}
	return token, token != ""
}

func (s *boltStore) Put(key, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(vaultBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", vaultBucket)
		}
		return b.Put([]byte(key), []byte(token))
	})
}

func (s *boltStore) Len() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(vaultBucket)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
