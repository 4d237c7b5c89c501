package session

import (
	"context"
	"sync"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	items    map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		items:    map[string]map[string]string{},
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return &Session{ID: id}, nil
	}
	s = s.clone()
	return &s, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) error) error {
	if id == "" {
		return ErrNoSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = Session{ID: id}
	}
	s = s.clone()
	if err := fn(&s); err != nil {
		return err
	}
	s.ID = id
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id, key string) (string, bool, error) {
	if id == "" {
		return "", false, ErrNoSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id][key]
	return v, ok, nil
}

func (m *MemoryStore) SetItem(_ context.Context, id, key, value string) error {
	if id == "" {
		return ErrNoSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[id] == nil {
		m.items[id] = map[string]string{}
	}
	m.items[id][key] = value
	return nil
}

func (m *MemoryStore) RemoveItem(_ context.Context, id, key string) error {
	if id == "" {
		return ErrNoSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items[id], key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
