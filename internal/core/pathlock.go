package core

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// pathLocks is a keyed mutex. Each destination path gets its own lock so the
// check, move, sidecar write and upsert for one path form a critical section
// while unrelated paths proceed in parallel. Entries are reference counted and
// dropped when the last holder or waiter leaves.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sem  chan struct{}
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// Lock blocks until key is free or ctx is done. The returned function
// releases the lock and must be called exactly once.
func (p *pathLocks) Lock(ctx context.Context, key string) (func(), error) {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pathLock{sem: make(chan struct{}, 1)}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(key, l)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			p.release(key, l)
		})
	}, nil
}

// LockAll takes every distinct key in sorted order, so callers locking
// overlapping sets cannot deadlock. On error nothing stays held.
func (p *pathLocks) LockAll(ctx context.Context, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sorted = slices.Compact(sorted)
	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range sorted {
		unlock, err := p.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (p *pathLocks) release(key string, l *pathLock) {
	p.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, key)
	}
	p.mu.Unlock()
}

// held reports the number of keys currently tracked.
func (p *pathLocks) held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
