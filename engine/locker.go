package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// LOCKER - Per-resource serialization of check-then-act
// =============================================================================

// Locker serializes mutations on a key. Without it two concurrent creates for
// overlapping windows can both pass the availability check and both commit.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the key and must be called exactly once.
	Lock(ctx context.Context, key string) (func(), error)
}

func serviceLockKey(id ServiceID) string   { return "service:" + string(id) }
func workerLockKey(k identity.Key) string { return "worker:" + string(k) }

// KeyedMutex is an in-process Locker. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (m *KeyedMutex) release(key string, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// held returns the number of tracked keys.
func (m *KeyedMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
