package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// Manager owns the running sessions, keyed by session id.
type Manager struct {
	deps   *Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager validates deps and returns a manager with no running sessions.
func NewManager(deps Deps) (*Manager, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{deps: d, ctx: ctx, cancel: cancel, sessions: make(map[string]*Session)}, nil
}

// Create starts the session for params. Requests that map to an existing session
// id return that session, restoring it from the store when it is not running.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Session, error) {
	gs, err := NewGatewaySession(p, m.deps.Now())
	if err != nil {
		return nil, err
	}
	if _, err := m.deps.lockChain(gs.SourceChain); err != nil {
		return nil, err
	}
	if _, err := m.deps.mintChain(gs.DestChain); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[gs.ID]; ok {
		select {
		case <-s.Done():
		default:
			return s, nil
		}
	}
	stored, err := m.deps.Store.Load(ctx, gs.ID)
	switch {
	case err == nil:
		gs = stored
	case errors.Is(err, ErrNotFound):
		if err := m.deps.Store.Save(ctx, gs); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return m.startLocked(gs), nil
}

// Restore starts every persisted session that has not completed and returns how
// many were started.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	stored, err := m.deps.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	started := 0
	for _, gs := range stored {
		if gs.State == SessionCompleted {
			continue
		}
		if _, ok := m.sessions[gs.ID]; ok {
			continue
		}
		m.startLocked(gs)
		started++
	}
	m.deps.Logger.Info("sessions restored", slog.Int("count", started), slog.Int("stored", len(stored)))
	return started, nil
}

func (m *Manager) startLocked(gs GatewaySession) *Session {
	s := newSession(m.deps, gs)
	m.sessions[gs.ID] = s
	s.Start(m.ctx)
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns snapshots of every session this manager has started, ordered by id.
func (m *Manager) List() []GatewaySession {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]GatewaySession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops every session and waits for them to exit.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		<-s.Done()
	}
}
