package agent

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter meters chat turns per client with a token bucket that refills
// limit tokens every window. Idle clients are evicted in the background.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	every    rate.Limit
	burst    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows limit turns per window for each key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		clients: make(map[string]*clientBucket),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		done:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether key may start another turn now.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()

	r.mu.Lock()
	b, ok := r.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(r.every, r.burst)}
		r.clients[key] = b
	}
	b.lastSeen = now
	r.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evict(time.Now())
		}
	}
}

// evict drops clients idle for a full window; their buckets would be full again.
func (r *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, b := range r.clients {
		if b.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}

func (r *RateLimiter) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
