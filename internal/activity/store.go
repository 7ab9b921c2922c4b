package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/storage"
)

// Store is the persistence surface the engine runs against. A nil tx
// means the operation runs outside any transaction.
type Store interface {
	FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Activity, error)
	// FindBySourceID looks up the activity by its idempotency key.
	FindBySourceID(ctx context.Context, tx storage.Tx, tenantID, platform, sourceID string) (*Activity, error)
	// FindUnresolvedChildren returns activities that name sourceID as
	// their source parent but have no resolved parent yet.
	FindUnresolvedChildren(ctx context.Context, tx storage.Tx, tenantID, platform, sourceID string) ([]*Activity, error)
	ListByConversation(ctx context.Context, tx storage.Tx, tenantID, conversationID string) ([]*Activity, error)
	Create(ctx context.Context, tx storage.Tx, a *Activity) (*Activity, error)
	Update(ctx context.Context, tx storage.Tx, a *Activity) (*Activity, error)
	Count(ctx context.Context, tx storage.Tx, tenantID string) (int, error)
}

// InMemoryStore backs the engine in tests and local runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Activity
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[string]*Activity),
		now:  time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *InMemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) FindByID(_ context.Context, _ storage.Tx, tenantID, id string) (*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return cloneActivity(a), nil
}

func (s *InMemoryStore) FindBySourceID(_ context.Context, _ storage.Tx, tenantID, platform, sourceID string) (*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.byID {
		if a.TenantID == tenantID && a.Platform == platform && a.SourceID == sourceID {
			return cloneActivity(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindUnresolvedChildren(_ context.Context, _ storage.Tx, tenantID, platform, sourceID string) ([]*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Activity
	for _, a := range s.byID {
		if a.TenantID == tenantID && a.Platform == platform &&
			a.SourceParentID == sourceID && a.ParentID == "" {
			out = append(out, cloneActivity(a))
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *InMemoryStore) ListByConversation(_ context.Context, _ storage.Tx, tenantID, conversationID string) ([]*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Activity
	for _, a := range s.byID {
		if a.TenantID == tenantID && a.ConversationID == conversationID {
			out = append(out, cloneActivity(a))
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *InMemoryStore) Create(_ context.Context, _ storage.Tx, a *Activity) (*Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneActivity(a)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	if stored.Payload == nil {
		stored.Payload = merge.Document{}
	}
	s.byID[stored.ID] = stored
	return cloneActivity(stored), nil
}

func (s *InMemoryStore) Update(_ context.Context, _ storage.Tx, a *Activity) (*Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[a.ID]
	if !ok || existing.TenantID != a.TenantID {
		return nil, ErrNotFound
	}
	stored := cloneActivity(a)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()
	s.byID[stored.ID] = stored
	return cloneActivity(stored), nil
}

func (s *InMemoryStore) Count(_ context.Context, _ storage.Tx, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.byID {
		if a.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// Snapshot implements storage.Snapshotter.
func (s *InMemoryStore) Snapshot() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]*Activity, len(s.byID))
	for id, a := range s.byID {
		snap[id] = cloneActivity(a)
	}
	return snap
}

// Restore implements storage.Snapshotter.
func (s *InMemoryStore) Restore(snapshot interface{}) {
	snap, ok := snapshot.(map[string]*Activity)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Activity, len(snap))
	for id, a := range snap {
		s.byID[id] = cloneActivity(a)
	}
}

func sortByCreatedAt(list []*Activity) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
