package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for idle sessions.
const DefaultSweepInterval = time.Minute

// SweepCallback is called after every sweep with the number of evicted sessions
// and the number still alive.
type SweepCallback func(removed, remaining int)

// Sweeper periodically evicts idle sessions from a Store.
type Sweeper struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartSweeper runs a background goroutine that sweeps the store at a fixed
// interval until ctx is cancelled or Stop is called.
func StartSweeper(ctx context.Context, store *Store, interval time.Duration, onSweep SweepCallback) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	sw := &Sweeper{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(sw.done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "timeout", store.Timeout())

		for {
			select {
			case <-ticker.C:
				removed := store.Sweep()
				remaining := store.Len()
				if removed > 0 {
					slog.Info("Session sweeper evicted idle sessions", "count", removed, "remaining", remaining)
				}
				if onSweep != nil {
					onSweep(removed, remaining)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()

	return sw
}

// Stop cancels the sweeper and waits for its goroutine to exit. It is safe to
// call more than once.
func (sw *Sweeper) Stop() {
	sw.once.Do(sw.cancel)
	<-sw.done
}

// Done is closed once the sweeper goroutine has exited.
func (sw *Sweeper) Done() <-chan struct{} {
	return sw.done
}
