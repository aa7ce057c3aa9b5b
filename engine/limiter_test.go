package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func (k *keyedMutex) entryCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func TestKeyedMutexReleasesIdleEntries(t *testing.T) {
	k := newKeyedMutex()

	k.lock("a")
	k.lock("b")
	assert.Equal(t, 2, k.entryCount())

	k.unlock("a")
	assert.Equal(t, 1, k.entryCount(), "idle entry must be removed")
	k.unlock("b")
	assert.Equal(t, 0, k.entryCount())

	// A fresh lock on a released key works as before.
	k.lock("a")
	k.unlock("a")
	assert.Equal(t, 0, k.entryCount())
}

func TestKeyedMutexSerializesContendedKey(t *testing.T) {
	k := newKeyedMutex()

	var wg sync.WaitGroup
	var active, maxActive, total int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.lock("hot")
			cur := atomic.AddInt32(&active, 1)
			for {
				max := atomic.LoadInt32(&maxActive)
				if cur <= max || atomic.CompareAndSwapInt32(&maxActive, max, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&total, 1)
			atomic.AddInt32(&active, -1)
			k.unlock("hot")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "holders of one key must never overlap")
	assert.Equal(t, int32(16), atomic.LoadInt32(&total))
	assert.Equal(t, 0, k.entryCount(), "map must be empty once all holders release")
}
