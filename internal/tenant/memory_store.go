package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline/internal/storage"
)

// InMemorySettingsStore is a threadsafe in-memory settings store for tests.
type InMemorySettingsStore struct {
	mu       sync.RWMutex
	byTenant map[string]*ConversationSettings
	now      func() time.Time
}

func NewInMemorySettingsStore() *InMemorySettingsStore {
	return &InMemorySettingsStore{
		byTenant: make(map[string]*ConversationSettings),
		now:      time.Now,
	}
}

func (s *InMemorySettingsStore) FindOrCreateDefault(ctx context.Context, tx storage.Tx, tenantID string) (*ConversationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.byTenant[tenantID]; ok {
		return cloneSettings(cs), nil
	}
	cs := DefaultSettings(tenantID)
	cs.ID = uuid.NewString()
	cs.CreatedAt = s.now()
	cs.UpdatedAt = cs.CreatedAt
	s.byTenant[tenantID] = cloneSettings(cs)
	return cs, nil
}

func (s *InMemorySettingsStore) Save(ctx context.Context, tx storage.Tx, tenantID string, ap AutoPublishSettings) (*ConversationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.byTenant[tenantID]
	if !ok {
		cs = DefaultSettings(tenantID)
		cs.ID = uuid.NewString()
		cs.CreatedAt = s.now()
	}
	cs.AutoPublish = ap
	cs.UpdatedAt = s.now()
	s.byTenant[tenantID] = cloneSettings(cs)
	return cloneSettings(cs), nil
}

// Snapshot implements storage.Snapshotter.
func (s *InMemorySettingsStore) Snapshot() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]*ConversationSettings, len(s.byTenant))
	for k, v := range s.byTenant {
		snap[k] = cloneSettings(v)
	}
	return snap
}

// Restore implements storage.Snapshotter.
func (s *InMemorySettingsStore) Restore(snapshot interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTenant = snapshot.(map[string]*ConversationSettings)
}

func cloneSettings(cs *ConversationSettings) *ConversationSettings {
	if cs == nil {
		return nil
	}
	cp := *cs
	if cs.AutoPublish.ChannelsByPlatform != nil {
		m := make(map[string][]string, len(cs.AutoPublish.ChannelsByPlatform))
		for k, v := range cs.AutoPublish.ChannelsByPlatform {
			m[k] = append([]string(nil), v...)
		}
		cp.AutoPublish.ChannelsByPlatform = m
	}
	return &cp
}
