package agent

import (
	"context"
	"sync"
)

// turnLocks serializes turns per session. Entries are dropped once no turn
// holds or waits for them.
type turnLocks struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

type turnSlot struct {
	sem  chan struct{}
	refs int
}

// acquire blocks until the session's turn is free or ctx ends.
func (l *turnLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*turnSlot)
	}
	slot, ok := l.slots[key]
	if !ok {
		slot = &turnSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.unref(key, slot)
		})
	}, nil
}

func (l *turnLocks) unref(key string, slot *turnSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// len reports how many sessions currently hold or wait for a turn.
func (l *turnLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
