package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/logging"
)

// ErrUnknownSession is returned for a session id that has expired.
var ErrUnknownSession = errors.New("unknown session")

const (
	DefaultTTL          = time.Hour
	DefaultTombstoneTTL = 24 * time.Hour
)

type key struct {
	user    string
	session string
}

// Store indexes live sessions by (user, session). The index mutex only guards
// the maps; each Session carries its own lock held for a whole turn, so turns
// on different sessions never wait on each other.
type Store struct {
	mu         sync.Mutex
	sessions   map[key]*Session
	current    map[string]string // user -> latest session id
	tombstones map[key]time.Time

	cat          *catalog.Catalog
	ttl          time.Duration
	tombstoneTTL time.Duration
	now          func() time.Time
	log          *slog.Logger
}

type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTombstoneTTL sets how long swept ids keep answering ErrUnknownSession.
func WithTombstoneTTL(d time.Duration) Option {
	return func(s *Store) { s.tombstoneTTL = d }
}

func NewStore(cat *catalog.Catalog, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		sessions:     make(map[key]*Session),
		current:      make(map[string]string),
		tombstones:   make(map[key]time.Time),
		cat:          cat,
		ttl:          ttl,
		tombstoneTTL: DefaultTombstoneTTL,
		now:          time.Now,
		log:          logging.New("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire returns the session for (userID, sessionID) locked for the caller,
// creating it when needed. The returned release func must be called exactly
// once when the turn ends.
//
// An empty userID gets a generated id. An empty sessionID resumes the user's
// latest live session, or starts a new one with a generated id. A sessionID
// that was swept for inactivity yields ErrUnknownSession.
func (s *Store) Acquire(userID, sessionID string) (*Session, func(), error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	for {
		sess, err := s.lookup(userID, sessionID)
		if err != nil {
			return nil, nil, err
		}
		sess.mu.Lock()
		switch sess.retired {
		case active:
			sess.LastInteraction = s.now()
			return sess, sess.mu.Unlock, nil
		case retiredExpired:
			sess.mu.Unlock()
			return nil, nil, ErrUnknownSession
		default:
			// Finished by a concurrent turn; the next lookup starts fresh.
			sess.mu.Unlock()
		}
	}
}

func (s *Store) lookup(userID, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		if id, ok := s.current[userID]; ok {
			if sess, ok := s.sessions[key{userID, id}]; ok {
				return sess, nil
			}
		}
		sessionID = uuid.NewString()
	}

	k := key{userID, sessionID}
	if sess, ok := s.sessions[k]; ok {
		return sess, nil
	}
	if _, gone := s.tombstones[k]; gone {
		return nil, ErrUnknownSession
	}

	sess := newSession(userID, sessionID, s.cat.NewAnswers(), s.now())
	s.sessions[k] = sess
	s.current[userID] = sessionID
	s.log.Info("Started session", "user_id", userID, "session_id", sessionID)
	return sess, nil
}

// Retire removes a completed session. The caller must hold the session lock.
func (s *Store) Retire(sess *Session) {
	sess.retired = retiredCompleted
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key{sess.UserID, sess.ID}, sess)
}

// remove drops k from the index only while it still maps to sess, so a
// late retire never evicts a newer session started under the same ids.
func (s *Store) remove(k key, sess *Session) {
	if s.sessions[k] != sess {
		return
	}
	delete(s.sessions, k)
	if s.current[k.user] == k.session {
		delete(s.current, k.user)
	}
}

// Sweep removes sessions idle for longer than the TTL and returns how many it
// removed. Sessions whose turn is in flight are skipped until the next sweep.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if now.Sub(sess.LastInteraction) > s.ttl {
			sess.retired = retiredExpired
			s.remove(k, sess)
			s.tombstones[k] = now
			removed++
		}
		sess.mu.Unlock()
	}
	for k, at := range s.tombstones {
		if now.Sub(at) > s.tombstoneTTL {
			delete(s.tombstones, k)
		}
	}
	if removed > 0 {
		s.log.Info("Swept idle sessions", "removed", removed, "remaining", len(s.sessions))
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Clear drops every live session without tombstoning them and returns how
// many it dropped. Sessions whose turn is in flight are left in place.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		sess.retired = retiredCompleted
		s.remove(k, sess)
		sess.mu.Unlock()
		n++
	}
	s.log.Info("Cleared conversation state", "sessions", n, "in_flight", len(s.sessions))
	return n
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
