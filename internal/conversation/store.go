package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline/internal/storage"
)

// Store persists conversations, tenant-scoped, transaction-aware.
type Store interface {
	FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Conversation, error)
	FindBySlug(ctx context.Context, tx storage.Tx, tenantID, slug string) (*Conversation, error)
	FindAndCount(ctx context.Context, tx storage.Tx, tenantID string, f Filter) ([]*Conversation, int, error)
	Create(ctx context.Context, tx storage.Tx, c *Conversation) error
	Update(ctx context.Context, tx storage.Tx, c *Conversation) error
	Delete(ctx context.Context, tx storage.Tx, tenantID, id string) error
}

// InMemoryStore is a threadsafe in-memory conversation store for tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Conversation
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[string]*Conversation),
		now:  time.Now,
	}
}

func (s *InMemoryStore) FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *InMemoryStore) FindBySlug(ctx context.Context, tx storage.Tx, tenantID, slug string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.TenantID == tenantID && c.Slug == slug {
			return cloneConversation(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindAndCount(ctx context.Context, tx storage.Tx, tenantID string, f Filter) ([]*Conversation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0)
	for _, c := range s.byID {
		if c.TenantID != tenantID {
			continue
		}
		if f.Slug != "" && c.Slug != f.Slug {
			continue
		}
		if f.Published != nil && c.Published != *f.Published {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, len(out), nil
}

func (s *InMemoryStore) Create(ctx context.Context, tx storage.Tx, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.byID[c.ID] = cloneConversation(c)
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, tx storage.Tx, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[c.ID]
	if !ok || old.TenantID != c.TenantID {
		return ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = s.now()
	s.byID[c.ID] = cloneConversation(c)
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, tx storage.Tx, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// Snapshot implements storage.Snapshotter.
func (s *InMemoryStore) Snapshot() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]*Conversation, len(s.byID))
	for k, v := range s.byID {
		snap[k] = cloneConversation(v)
	}
	return snap
}

// Restore implements storage.Snapshotter.
func (s *InMemoryStore) Restore(snapshot interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = snapshot.(map[string]*Conversation)
}
