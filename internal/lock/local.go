package lock

import (
	"context"
	"sync"
)

// LocalLock implements KeyLock with in-process mutexes. It is the fallback
// when no Redis is configured; the store's row lock still guards correctness
// across processes.
type LocalLock struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	mu      sync.Mutex
	waiters int
}

func NewLocalLock() *LocalLock {
	return &LocalLock{keys: make(map[string]*localEntry)}
}

func (l *LocalLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	entry, ok := l.keys[key]
	if !ok {
		entry = &localEntry{}
		l.keys[key] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	entry.mu.Lock()

	release := func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(l.keys, key)
		}
		l.mu.Unlock()
	}
	return release, nil
}
