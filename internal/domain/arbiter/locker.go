package arbiter

import (
	"context"
	"sync"
)

// Locker serialises runs for a slot. Lock blocks until held or ctx is done
// and returns the release func.
type Locker interface {
	Lock(ctx context.Context, slot string) (func(), error)
}

// KeyedLocker is an in-process Locker with one lock per slot.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyedLocker creates a KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]chan struct{})}
}

// Lock implements Locker.
func (k *KeyedLocker) Lock(ctx context.Context, slot string) (func(), error) {
	k.mu.Lock()
	ch, ok := k.slots[slot]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[slot] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
