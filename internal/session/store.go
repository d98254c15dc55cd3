// Package session provides the in-memory chat session store and its idle sweeper.
package session

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id does not resolve to a live session.
var ErrNotFound = errors.New("session not found")

const (
	// DefaultMaxMessages is the per-session history cap.
	DefaultMaxMessages = 100
	// DefaultTimeout is the idle cutoff after which the sweeper evicts a session.
	DefaultTimeout = 30 * time.Minute
)

// StoreConfig configures a Store.
type StoreConfig struct {
	MaxMessages int
	Timeout     time.Duration
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
}

// record is the mutable state behind a session id.
// All fields are guarded by mu; the store map lock is never held while mu is.
type record struct {
	mu           sync.Mutex
	id           string
	createdAt    time.Time
	lastAccessed time.Time
	info         domain.UserInfo
	messages     *list.List // of domain.Message, oldest at Front
}

// Store is a thread-safe mapping of session id to session record.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*record
	maxMessages int
	timeout     time.Duration
	now         func() time.Time
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		sessions:    make(map[string]*record),
		maxMessages: cfg.MaxMessages,
		timeout:     cfg.Timeout,
		now:         cfg.Now,
	}
}

// Create allocates a fresh session and returns its snapshot.
func (s *Store) Create(info domain.UserInfo) domain.Session {
	now := s.now()
	rec := &record{
		createdAt:    now,
		lastAccessed: now,
		info:         info.Trimmed(),
		messages:     list.New(),
	}

	s.mu.Lock()
	for {
		rec.id = uuid.NewString()
		if _, exists := s.sessions[rec.id]; !exists {
			break
		}
	}
	s.sessions[rec.id] = rec
	s.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot()
}

// Get returns the current snapshot of a session and marks it as accessed.
func (s *Store) Get(id string) (domain.Session, bool) {
	rec := s.lookup(id)
	if rec == nil {
		return domain.Session{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.touch(s.now())
	return rec.snapshot(), true
}

// Messages returns a copy of the session history and marks the session as accessed.
func (s *Store) Messages(id string) ([]domain.Message, bool) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.touch(s.now())
	return rec.history(), true
}

// Append adds a message to the session history, evicting the oldest entries
// once the cap is reached. It reports false when the session does not exist.
func (s *Store) Append(id string, msg domain.Message) bool {
	rec := s.lookup(id)
	if rec == nil {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.messages.PushBack(msg)
	for rec.messages.Len() > s.maxMessages {
		rec.messages.Remove(rec.messages.Front())
	}
	rec.touch(s.now())
	return true
}

// Invalidate removes a session and reports whether it existed.
// Removing an unknown id is a no-op.
func (s *Store) Invalidate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Sweep removes every session idle for longer than the configured timeout
// and returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.sessions {
		rec.mu.Lock()
		expired := rec.lastAccessed.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Timeout returns the idle cutoff used by Sweep.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

func (s *Store) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// touch never moves lastAccessed backwards.
func (r *record) touch(now time.Time) {
	if now.After(r.lastAccessed) {
		r.lastAccessed = now
	}
}

func (r *record) history() []domain.Message {
	out := make([]domain.Message, 0, r.messages.Len())
	for e := r.messages.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(domain.Message))
	}
	return out
}

func (r *record) snapshot() domain.Session {
	return domain.Session{
		ID:             r.id,
		CreatedAt:      r.createdAt,
		LastAccessedAt: r.lastAccessed,
		Active:         true,
		Messages:       r.history(),
		CustomerID:     r.info.CustomerID,
		ECN:            r.info.ECN,
		XAID:           r.info.XAID,
	}
}
