package runstate

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Load and Save copy, so callers can't alias its contents.
type Memory struct {
	mu     sync.Mutex
	st     State
	saves  int
	closed bool
}

func NewMemory() *Memory { return &Memory{st: State{}} }

func (m *Memory) Load(ctx context.Context) (State, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return State{}, ErrClosed
	}
	return m.st.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, st State) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st = st.Clone()
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
