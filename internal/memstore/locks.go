package memstore

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"sync"
	"time"
)

// keyLocks is a set of exclusive per-key locks that can be waited on with a
// deadline.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]chan struct{})}
}

func (k *keyLocks) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.m[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.m[key] = ch
	}
	return ch
}

func (k *keyLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := k.slot(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: lock %s not acquired within %s", pos.ErrConflict, key, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *keyLocks) release(key string) {
	<-k.slot(key)
}
