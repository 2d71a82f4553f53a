// Package sessionlock serializes work on the same session id while letting
// different sessions proceed in parallel.
package sessionlock

import (
	"context"
	"sync"
)

// Locker hands out one lock per session id. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Lock blocks until the session lock is held or ctx is done. The returned
// func releases the lock.
func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*entry{}
	}
	e, ok := l.locks[sessionID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			l.release(sessionID, e)
		}, nil
	case <-ctx.Done():
		l.release(sessionID, e)
		return nil, ctx.Err()
	}
}

func (l *Locker) release(sessionID string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, sessionID)
	}
}
