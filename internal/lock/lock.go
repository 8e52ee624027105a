// Package lock provides per-recording mutual exclusion for pipeline runs.
// A recording holds at most one lock at a time; a second caller is refused
// rather than queued.
package lock

import (
	"context"
	"sync"
)

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker acquires per-key locks without blocking.
type Locker interface {
	// TryLock returns ok=false when key is already held.
	TryLock(ctx context.Context, key string) (release Release, ok bool, err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]uint64)}
}

func (m *Memory) TryLock(_ context.Context, key string) (Release, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.seq++
	token := m.seq
	m.held[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key] == token {
				delete(m.held, key)
			}
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
