package session

import (
	"context"
	"sync"

	"portfolio-tracker/store"
)

// Identity says whose portfolio a request works on.
type Identity struct {
	UserID string
	Guest  bool
}

type entry struct {
	s     *Session
	err   error
	ready chan struct{}
}

// Manager hands out one started Session per user. Registered users are
// backed by users, guests by guests.
type Manager struct {
	users  store.Store
	guests store.Store
	deps   Deps

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewManager(users, guests store.Store, deps Deps) *Manager {
	return &Manager{
		users:    users,
		guests:   guests,
		deps:     deps,
		sessions: make(map[string]*entry),
	}
}

func key(id Identity) string {
	if id.Guest {
		return "guest:" + id.UserID
	}
	return "user:" + id.UserID
}

// Get returns the session of id, loading it on first use. Concurrent callers
// for the same user share one load.
func (m *Manager) Get(ctx context.Context, id Identity) (*Session, error) {
	k := key(id)

	m.mu.Lock()
	e, ok := m.sessions[k]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		m.sessions[k] = e
	}
	m.mu.Unlock()

	if !ok {
		st := m.users
		if id.Guest {
			st = m.guests
		}
		e.s = New(id.UserID, st, m.deps)
		if e.err = e.s.Start(ctx); e.err != nil {
			e.s.Close()
			m.mu.Lock()
			delete(m.sessions, k)
			m.mu.Unlock()
		}
		close(e.ready)
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.s, nil
}

// Close ends the session of id, if any.
func (m *Manager) Close(id Identity) {
	m.mu.Lock()
	e, ok := m.sessions[key(id)]
	delete(m.sessions, key(id))
	m.mu.Unlock()
	if !ok {
		return
	}
	<-e.ready
	if e.err == nil {
		e.s.Close()
	}
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.err == nil {
			e.s.Close()
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
