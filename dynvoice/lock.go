package dynvoice

import (
	"context"
	"sync"
)

// heldLockKey marks a key as held by the context chain it's attached to.
type heldLockKey struct {
	registry *LockRegistry
	key      string
}

type keyLock struct {
	// sem has capacity 1 - holding the token means holding the lock
	sem chan struct{}

	// refs counts holders plus waiters, so the entry can be dropped
	// once nobody needs it
	refs int
}

// LockRegistry hands out mutual exclusion per key (typically a channel ID,
// or "group:<id>" for group-wide operations).
//
// Locks acquired via Acquire are reentrant along a context chain: the
// returned context marks the key as held, and acquiring the same key again
// with that context (or one derived from it) succeeds immediately. Only the
// outermost release actually unlocks.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: map[string]*keyLock{}}
}

func (r *LockRegistry) ref(key string) *keyLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		r.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (r *LockRegistry) unref(key string, kl *keyLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(r.locks, key)
	}
}

// Acquire blocks until key is available or ctx is done. The returned
// release func must be called exactly once.
func (r *LockRegistry) Acquire(ctx context.Context, key string) (
	context.Context,
	func(),
	error,
) {
	hk := heldLockKey{registry: r, key: key}
	if ctx.Value(hk) != nil {
		return ctx, func() {}, nil
	}

	kl := r.ref(key)
	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(key, kl)
		return ctx, func() {}, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(
			func() {
				<-kl.sem
				r.unref(key, kl)
			},
		)
	}
	return context.WithValue(ctx, hk, struct{}{}), release, nil
}

// TryAcquire takes the lock for key without blocking. It is not reentrant.
// Returns false if the key is already held.
func (r *LockRegistry) TryAcquire(key string) (func(), bool) {
	kl := r.ref(key)
	select {
	case kl.sem <- struct{}{}:
	default:
		r.unref(key, kl)
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(
			func() {
				<-kl.sem
				r.unref(key, kl)
			},
		)
	}, true
}

// Held reports whether key is currently locked.
func (r *LockRegistry) Held(key string) bool {
	r.mu.Lock()
	kl, ok := r.locks[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return len(kl.sem) > 0
}

// Len returns the number of keys with a holder or waiter.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func groupLockKey(groupID string) string {
	return "group:" + groupID
}
