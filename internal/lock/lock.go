// Package lock provides the per-company concurrency key: an in-process keyed
// semaphore and an optional Redis lock for deployments with several workers.
package lock

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBusy is returned by TryAcquire when the key is held.
var ErrBusy = eris.New("lock: key busy")

// Locker serializes work per key. Acquire blocks until the key is free or
// ctx is done. The returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Keyed is an in-process keyed semaphore with capacity one per key. Entries
// are reference counted and dropped once no holder or waiter remains.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyed returns an empty keyed semaphore.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

func (k *Keyed) get(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) put(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *Keyed) releaser(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.put(key, s)
		})
	}
}

// Acquire implements Locker.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	s := k.get(key)
	select {
	case s.ch <- struct{}{}:
		return k.releaser(key, s), nil
	case <-ctx.Done():
		k.put(key, s)
		return nil, eris.Wrapf(ctx.Err(), "lock: acquire %s", key)
	}
}

// TryAcquire takes the key only if it is free.
func (k *Keyed) TryAcquire(key string) (func(), error) {
	s := k.get(key)
	select {
	case s.ch <- struct{}{}:
		return k.releaser(key, s), nil
	default:
		k.put(key, s)
		return nil, eris.Wrapf(ErrBusy, "lock: %s", key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

// Chain acquires each locker in order and releases in reverse. It lets a
// worker take the cheap local key before contending on Redis.
type Chain []Locker

// Acquire implements Locker.
func (c Chain) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		rel, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
