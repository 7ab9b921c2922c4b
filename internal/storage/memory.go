package storage

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory stores so the memory transaction
// manager can capture and restore their state around a transaction.
type Snapshotter interface {
	Snapshot() interface{}
	Restore(snapshot interface{})
}

// MemoryManager provides serialized transactions over a set of in-memory
// stores. Begin takes a global lock held until Commit or Rollback, which
// gives the same effect as row-level locking in Postgres: two concurrent
// linking attempts cannot interleave, so at most one conversation is
// created per thread.
type MemoryManager struct {
	mu    sync.Mutex
	parts []Snapshotter
}

func NewMemoryManager(parts ...Snapshotter) *MemoryManager {
	return &MemoryManager{parts: parts}
}

// Register adds a store as a transaction participant. Must be called
// before any transaction begins.
func (m *MemoryManager) Register(p Snapshotter) {
	m.parts = append(m.parts, p)
}

func (m *MemoryManager) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	snapshots := make([]interface{}, len(m.parts))
	for i, p := range m.parts {
		snapshots[i] = p.Snapshot()
	}
	return &memoryTx{mgr: m, snapshots: snapshots}, nil
}

type memoryTx struct {
	mgr       *MemoryManager
	snapshots []interface{}
	finished  bool
}

func (t *memoryTx) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	t.mgr.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	for i, p := range t.mgr.parts {
		p.Restore(t.snapshots[i])
	}
	t.mgr.mu.Unlock()
	return nil
}
