package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/metrics"
)

const changeBuffer = 64

type session struct {
	identity Identity
	expires  time.Time
	// ready is set once the gate has bootstrapped the profile.
	ready bool
}

// Sessions is an in-memory session registry keyed by opaque tokens.
type Sessions struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	items   map[string]*session
	changes chan Change
}

// NewSessions creates a registry whose sessions live for ttl after creation.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*session),
		changes: make(chan Change, changeBuffer),
	}
}

// SetClock overrides the time source (tests).
func (s *Sessions) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Changes streams sign-out notifications (revocations and expiries).
func (s *Sessions) Changes() <-chan Change {
	return s.changes
}

// Create registers a new session for id and returns its token.
func (s *Sessions) Create(id Identity) string {
	sid := uuid.NewString()
	s.mu.Lock()
	s.items[sid] = &session{identity: id, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return sid
}

// Lookup returns the identity for sid. Expired sessions are dropped and
// reported on Changes.
func (s *Sessions) Lookup(sid string) (Identity, bool) {
	s.mu.Lock()
	sess, ok := s.items[sid]
	if ok && !s.now().Before(sess.expires) {
		delete(s.items, sid)
		s.mu.Unlock()
		metrics.SignIns.WithLabelValues("expired").Inc()
		s.publish(Change{SessionID: sid, Path: PathExpired})
		return Identity{}, false
	}
	s.mu.Unlock()
	if !ok {
		return Identity{}, false
	}
	return sess.identity, true
}

func (s *Sessions) markReady(sid string) {
	s.mu.Lock()
	if sess, ok := s.items[sid]; ok {
		sess.ready = true
	}
	s.mu.Unlock()
}

func (s *Sessions) isReady(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[sid]
	return ok && sess.ready
}

// Revoke ends sid. Revoking an unknown session is a no-op and publishes
// nothing.
func (s *Sessions) Revoke(sid string) bool {
	s.mu.Lock()
	_, ok := s.items[sid]
	delete(s.items, sid)
	s.mu.Unlock()
	if ok {
		s.publish(Change{SessionID: sid, Path: PathSignOut})
	}
	return ok
}

// Len returns the number of live (possibly expired but unvisited) sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// publish never blocks; if nobody drains Changes, notifications are dropped.
func (s *Sessions) publish(c Change) {
	select {
	case s.changes <- c:
	default:
	}
}
