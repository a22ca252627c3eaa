package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// KeyedLocker serializes work per key. Waiters block until the holder
// releases or their context ends; idle keys are dropped.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[string]*keyedLock{}}
}

func WatermarkKey(integrationID string, tenantID string) string {
	return strings.TrimSpace(integrationID) + "\x00" + strings.TrimSpace(tenantID)
}

// Lock acquires key and returns its release func. Release is idempotent.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil {
		return nil, fmt.Errorf("core: keyed locker is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*keyedLock{}
	}
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.release(key, entry, true)
		})
	}, nil
}

func (l *KeyedLocker) release(key string, entry *keyedLock, held bool) {
	if held {
		<-entry.sem
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && l.locks[key] == entry {
		delete(l.locks, key)
	}
}

// Len reports how many keys are held or awaited.
func (l *KeyedLocker) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
