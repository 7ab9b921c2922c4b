package member

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline/internal/storage"
)

// Store persists members. All operations are tenant-scoped and run inside
// the caller-provided transaction when tx is non-nil.
type Store interface {
	FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Member, error)
	// FindByUsername looks up the member holding the given handle on the
	// given platform. Returns ErrNotFound when no member matches.
	FindByUsername(ctx context.Context, tx storage.Tx, tenantID, platform, handle string) (*Member, error)
	Create(ctx context.Context, tx storage.Tx, m *Member) error
	Update(ctx context.Context, tx storage.Tx, m *Member) error
	Count(ctx context.Context, tx storage.Tx, tenantID string) (int, error)
}

// InMemoryStore is a threadsafe in-memory member store for tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Member
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[string]*Member),
		now:  time.Now,
	}
}

func (s *InMemoryStore) FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok || m.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return cloneMember(m), nil
}

func (s *InMemoryStore) FindByUsername(ctx context.Context, tx storage.Tx, tenantID, platform, handle string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.byID {
		if m.TenantID != tenantID {
			continue
		}
		if m.Usernames[platform] == handle {
			return cloneMember(m), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) Create(ctx context.Context, tx storage.Tx, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.byID[m.ID] = cloneMember(m)
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, tx storage.Tx, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[m.ID]
	if !ok || old.TenantID != m.TenantID {
		return ErrNotFound
	}
	m.CreatedAt = old.CreatedAt
	m.UpdatedAt = s.now()
	s.byID[m.ID] = cloneMember(m)
	return nil
}

func (s *InMemoryStore) Count(ctx context.Context, tx storage.Tx, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byID {
		if m.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// Snapshot implements storage.Snapshotter.
func (s *InMemoryStore) Snapshot() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]*Member, len(s.byID))
	for k, v := range s.byID {
		snap[k] = cloneMember(v)
	}
	return snap
}

// Restore implements storage.Snapshotter.
func (s *InMemoryStore) Restore(snapshot interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = snapshot.(map[string]*Member)
}
