package gate

import (
	"context"
	"sync"
	"time"
)

// Lock represents the exclusive claim on one agent's calling capacity.
//
// Invariants:
// - At most one Lock exists per agent at any time.
// - Existence of the entry is the lock; there is no boolean flag.
// - CallID may be empty right after dispatch acceptance, before the provider
//   has returned an identifier. An entry with only a reservation timestamp
//   still counts as locked; this closes the race where a burst of dispatch
//   requests arrives before the first provider call returns.
type Lock struct {
	AgentID    string    `json:"agent_id"`
	CallID     string    `json:"call_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Store is the injectable lock table. Implementations must make TryInsert an
// atomic check-and-set.
type Store interface {
	// TryInsert inserts the lock if no entry exists for the agent. When it
	// returns false, cur holds the entry that blocked the insert.
	TryInsert(ctx context.Context, l Lock) (ok bool, cur Lock, err error)

	Get(ctx context.Context, agentID string) (Lock, bool, error)

	// AttachCallID sets the call id on an existing entry. Returns false when
	// the entry is gone (already released).
	AttachCallID(ctx context.Context, agentID, callID string) (bool, error)

	// Delete removes the entry. Returns false when nothing was held.
	Delete(ctx context.Context, agentID string) (bool, error)
}

// MemoryStore is the default single-process lock table. It resets to empty on
// restart; calls genuinely in flight at restart time are no longer tracked.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[string]Lock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]Lock)}
}

func (s *MemoryStore) TryInsert(_ context.Context, l Lock) (bool, Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, busy := s.locks[l.AgentID]; busy {
		return false, cur, nil
	}
	s.locks[l.AgentID] = l
	return true, Lock{}, nil
}

func (s *MemoryStore) Get(_ context.Context, agentID string) (Lock, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[agentID]
	return l, ok, nil
}

func (s *MemoryStore) AttachCallID(_ context.Context, agentID, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		return false, nil
	}
	l.CallID = callID
	s.locks[agentID] = l
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[agentID]; !ok {
		return false, nil
	}
	delete(s.locks, agentID)
	return true, nil
}

// Len reports the number of held locks; used by tests and diagnostics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}
