package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no record exists for a lookup key.
var ErrNotFound = errors.New("identity: record not found")

// UserRecord is the gateway's view of an identity. PasswordHash is a bcrypt
// hash; Secret is the shared secret registered for signed API requests.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Secret       string
	Roles        []string
}

// Store is the external identity collaborator. Implementations are expected
// to be safe for concurrent use.
type Store interface {
	Lookup(ctx context.Context, id string) (*UserRecord, error)
	LookupByUsername(ctx context.Context, username string) (*UserRecord, error)
}

// MemoryStore is a map-backed Store seeded at startup. It backs the
// bootstrap users from config and the test suite; production deployments
// substitute a persistent implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]UserRecord
	byName map[string]UserRecord
}

func NewMemoryStore(users []UserRecord) *MemoryStore {
	s := &MemoryStore{
		byID:   make(map[string]UserRecord, len(users)),
		byName: make(map[string]UserRecord, len(users)),
	}
	for _, u := range users {
		s.byID[u.ID] = u
		if u.Username != "" {
			s.byName[u.Username] = u
		}
	}
	return s
}

func (s *MemoryStore) Put(u UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = u
	if u.Username != "" {
		s.byName[u.Username] = u
	}
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (s *MemoryStore) LookupByUsername(_ context.Context, username string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	return &cp, nil
}
