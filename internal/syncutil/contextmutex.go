// Package syncutil provides locking helpers.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex serialises work per key while letting different keys proceed in
// parallel. Waiters can bail out when their context ends. Entries are
// reference counted and dropped once no goroutine holds or waits on them, so
// memory stays proportional to in-flight keys.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*chanMutex
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*chanMutex)}
}

// LockContext acquires the lock for key. On success it returns an unlock
// function the caller MUST call exactly once. On context cancellation it
// returns nil and the context error.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	l := m.acquireRef(key)

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.releaseRef(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.releaseRef(key, l)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) acquireRef(key string) *chanMutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &chanMutex{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *KeyedMutex) releaseRef(key string, l *chanMutex) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
