package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/magi/go-controller/internal/battle"
)

// MemoryStore keeps sessions in a map. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, mode string) (State, error) {
	if mode == "" {
		return State{}, ErrEmptyMode
	}
	now := m.now().UTC()
	st := State{SessionID: uuid.New().String(), Mode: mode, CreatedAt: now, UpdatedAt: now}
	m.mu.Lock()
	m.sessions[st.SessionID] = st
	m.mu.Unlock()
	return st, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (State, bool, error) {
	m.mu.RLock()
	st, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return State{}, false, nil
	}
	st.LastOutputs = cloneOutputs(st.LastOutputs)
	return st, true, nil
}

func (m *MemoryStore) SaveOutputs(_ context.Context, id string, outputs battle.Outputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	if !ok {
		return nil
	}
	st.LastOutputs = cloneOutputs(outputs)
	st.UpdatedAt = m.now().UTC()
	m.sessions[id] = st
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
