package exit

import (
	"context"
	"kis_trader/pkg/exception"
	"sync"
	"time"
)

// LockRegistry hands out one mutex per key. Entries are refcounted and removed
// as soon as nobody holds or waits on them.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*lockEntry)}
}

// Acquire waits up to timeout (forever when timeout <= 0) for key.
// It returns exception.ErrLockTimeout or ctx.Err() on failure.
func (r *LockRegistry) Acquire(ctx context.Context, key string, timeout time.Duration) (release func(), err error) {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				r.unref(key, e)
			})
		}, nil
	case <-expired:
		r.unref(key, e)
		return nil, exception.ErrLockTimeout
	case <-ctx.Done():
		r.unref(key, e)
		return nil, ctx.Err()
	}
}

func (r *LockRegistry) unref(key string, e *lockEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && r.locks[key] == e {
		delete(r.locks, key)
	}
}

// Len is the number of live entries.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
