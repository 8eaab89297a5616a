package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps sessions in memory. It is the default Store and is used by tests.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]GatewaySession
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]GatewaySession)}
}

func (m *MemStore) Save(_ context.Context, s GatewaySession) error {
	if s.ID == "" {
		return fmt.Errorf("session: save requires an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemStore) Load(_ context.Context, id string) (GatewaySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return GatewaySession{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemStore) List(_ context.Context) ([]GatewaySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GatewaySession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
