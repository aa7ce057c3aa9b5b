package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// dispatchLimiter enforces the two global execution constraints: a ceiling
// on concurrent jobs and a minimum spacing between dispatches to the swap
// provider. Arrival order is the only fairness guarantee.
type dispatchLimiter struct {
	sem     chan struct{}
	spacing *rate.Limiter
}

func newDispatchLimiter(concurrency int, minInterval time.Duration) *dispatchLimiter {
	if concurrency <= 0 {
		concurrency = 1
	}
	var spacing *rate.Limiter
	if minInterval > 0 {
		spacing = rate.NewLimiter(rate.Every(minInterval), 1)
	} else {
		spacing = rate.NewLimiter(rate.Inf, 1)
	}
	return &dispatchLimiter{
		sem:     make(chan struct{}, concurrency),
		spacing: spacing,
	}
}

// acquire blocks until a slot is free and the spacing allows another
// dispatch. Returns false if ctx expired while waiting.
func (l *dispatchLimiter) acquire(ctx context.Context) bool {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if err := l.spacing.Wait(ctx); err != nil {
		<-l.sem
		return false
	}
	return true
}

func (l *dispatchLimiter) release() {
	<-l.sem
}

// keyedMutex serializes work per string key. Used to keep trade execution
// for one (user, token) pair strictly sequential so a later job reads the
// position state the earlier one committed. Entries are reference counted
// and removed once the last holder releases, so the map stays bounded by
// the number of in-flight keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		k.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}
