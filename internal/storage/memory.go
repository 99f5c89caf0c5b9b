package storage

import (
	"context"
	"sync"
)

type InMemorySessionStore struct {
	mu    sync.RWMutex
	state *SessionState
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{}
}

func (s *InMemorySessionStore) Load(ctx context.Context) (*SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, ErrNoSession
	}
	c := *s.state
	c.Room = s.state.Room.Clone()
	return &c, nil
}

func (s *InMemorySessionStore) Save(ctx context.Context, state SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state.Room = state.Room.Clone()
	s.state = &state
	return nil
}

func (s *InMemorySessionStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = nil
	return nil
}
