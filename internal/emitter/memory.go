package emitter

import (
	"context"
	"sync"
)

// Recorded is one message captured by the in-memory emitter.
type Recorded struct {
	GroupKey string
	DedupKey string
	Payload  interface{}
}

// InMemoryEmitter records messages instead of queueing them. It applies
// the same dedup-key collapsing the queue-backed emitter gets from
// unique jobs, which makes emission assertions deterministic in tests.
type InMemoryEmitter struct {
	mu   sync.Mutex
	sent []Recorded
	seen map[string]bool
}

func NewInMemoryEmitter() *InMemoryEmitter {
	return &InMemoryEmitter{seen: make(map[string]bool)}
}

func (e *InMemoryEmitter) Send(_ context.Context, groupKey string, payload interface{}, dedupKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dedupKey != "" && e.seen[dedupKey] {
		return nil
	}
	if dedupKey != "" {
		e.seen[dedupKey] = true
	}
	e.sent = append(e.sent, Recorded{GroupKey: groupKey, DedupKey: dedupKey, Payload: payload})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (e *InMemoryEmitter) Messages() []Recorded {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Recorded, len(e.sent))
	copy(out, e.sent)
	return out
}

// Reset clears recorded messages and dedup state.
func (e *InMemoryEmitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = nil
	e.seen = make(map[string]bool)
}
