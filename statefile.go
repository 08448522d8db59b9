package chatsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// ============================================================================
// Persistent client state
// ============================================================================

var stateBucket = []byte("state")

const (
	stateKeyLastActive = "last-active-conversation"
	stateKeyIdentity   = "identity-hint"
)

type stateEntry struct {
	Value     string    `msgpack:"value"`
	UpdatedAt time.Time `msgpack:"updatedAt"`
}

// BoltState persists client-local UI state in a bbolt file so a restarted
// client can restore its last-active conversation. It implements StateStore.
type BoltState struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltState opens (creating if needed) the state file at path.
func OpenBoltState(path string) (*BoltState, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state bucket: %w", err)
	}
	return &BoltState{db: db, now: time.Now}, nil
}

// Close closes the underlying state file.
func (b *BoltState) Close() error {
	return b.db.Close()
}

// LastActiveConversation returns the persisted last-active conversation ID.
func (b *BoltState) LastActiveConversation() (string, bool) {
	v, ok := b.get(stateKeyLastActive)
	return v, ok && v != ""
}

// SetLastActiveConversation persists the last-active conversation ID; an
// empty ID clears the entry.
func (b *BoltState) SetLastActiveConversation(conversationID string) error {
	if conversationID == "" {
		return b.delete(stateKeyLastActive)
	}
	return b.set(stateKeyLastActive, conversationID)
}

// IdentityHint returns the last identity this state file was written under,
// letting a client detect an account switch and discard stale selection.
func (b *BoltState) IdentityHint() (string, bool) {
	return b.get(stateKeyIdentity)
}

// SetIdentityHint records the identity owning this state file. A change of
// identity clears the last-active conversation.
func (b *BoltState) SetIdentityHint(userID string) error {
	prev, ok := b.get(stateKeyIdentity)
	if ok && prev != userID {
		if err := b.delete(stateKeyLastActive); err != nil {
			return err
		}
	}
	return b.set(stateKeyIdentity, userID)
}

func (b *BoltState) get(key string) (string, bool) {
	var entry stateEntry
	found := false
	_ = b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(stateBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := msgpack.Unmarshal(raw, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	return entry.Value, found
}

func (b *BoltState) set(key, value string) error {
	raw, err := msgpack.Marshal(stateEntry{Value: value, UpdatedAt: b.now()})
	if err != nil {
		return fmt.Errorf("encode state entry: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), raw)
	})
}

func (b *BoltState) delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Delete([]byte(key))
	})
}

// ============================================================================
// In-memory state
// ============================================================================

// MemoryState is a StateStore that lives for the process only. Useful when no
// state file path is configured, and in tests.
type MemoryState struct {
	mu         sync.Mutex
	lastActive string
}

func NewMemoryState() *MemoryState {
	return &MemoryState{}
}

func (m *MemoryState) LastActiveConversation() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive, m.lastActive != ""
}

func (m *MemoryState) SetLastActiveConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = conversationID
	return nil
}
