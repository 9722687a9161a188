package tabs

import (
	"context"
	"sort"
	"sync"
	"time"

	sectoken "gatekeeper/cmd/security/token"
)

// keyPrefix namespaces tab records in shared storage.
const keyPrefix = "gatekeeper:tabs:"

// Record is one tab's claim on a session.
type Record struct {
	TabID     string    `json:"tabId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// Key derives the storage key of a session. Session ids are bearer secrets, so
// the key carries their digest, never the id itself.
func Key(sessionID string) string {
	return keyPrefix + sectoken.HashSHA256Hex(sessionID)
}

// Storage is the shared surface every tab of a session can read and write.
// Put must be visible to a List by the same caller once it returns.
type Storage interface {
	Put(ctx context.Context, key string, rec Record) error
	List(ctx context.Context, key string) ([]Record, error)
	Delete(ctx context.Context, key, tabID string) error
}

// MemoryStorage shares records between coordinators in one process.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]map[string]Record
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]map[string]Record)}
}

// Put stores rec under key, replacing the tab's previous record.
func (s *MemoryStorage) Put(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.data[key]
	if !ok {
		recs = make(map[string]Record)
		s.data[key] = recs
	}
	recs[rec.TabID] = rec
	return nil
}

// List returns the records under key ordered by tab id.
func (s *MemoryStorage) List(_ context.Context, key string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.data[key]))
	for _, r := range s.data[key] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out, nil
}

// Delete removes one tab's record.
func (s *MemoryStorage) Delete(_ context.Context, key, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(recs, tabID)
	if len(recs) == 0 {
		delete(s.data, key)
	}
	return nil
}
