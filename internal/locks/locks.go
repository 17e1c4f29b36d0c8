// Package locks serializes writers per conversation.
package locks

import (
	"context"
	"fmt"
	"sync"
)

// Locker hands out exclusive locks by key. Lock blocks until the lock is
// held or ctx ends; the returned func releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func ConversationKey(id uint) string {
	return fmt.Sprintf("alexus:lock:conversation:%d", id)
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits for them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
