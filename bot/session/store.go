package session

import (
	"os"
	"sync"
	"time"

	"github.com/karwa/bannerbot/core/logger"
	"log/slog"
)

// DefaultTTL is the idle window after which a session is treated as absent.
const DefaultTTL = 10 * time.Minute

// Store keeps one mutable Session per user with lazy idle-expiry.
// Mutations for one user are serialized through Acquire/Done; the store
// itself is safe for concurrent use across users.
type Store struct {
	ttl     time.Duration
	release func(path string) error
	now     func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	busy sync.Mutex
	sess Session
}

// Option customises Store construction.
type Option func(*Store)

// WithTTL overrides the idle-expiry window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithReleaseFunc overrides how transient files are removed.
func WithReleaseFunc(fn func(path string) error) Option {
	return func(s *Store) {
		if fn != nil {
			s.release = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds an in-memory session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:     DefaultTTL,
		release: os.Remove,
		now:     time.Now,
		entries: make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire takes the per-user serialization lock without blocking.
// It returns false when another event for the same user is still being
// processed; the caller should reject the event rather than interleave.
func (s *Store) Acquire(userID int64) bool {
	e := s.entry(userID)
	return e.busy.TryLock()
}

// Done releases the per-user serialization lock taken by Acquire. An entry
// left without an active session is dropped, so one-off senders (including
// unauthorized ones) do not accumulate in the map over the process lifetime.
func (s *Store) Done(userID int64) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if ok && !e.sess.Active() {
		delete(s.entries, userID)
	}
	s.mu.Unlock()
	if ok {
		e.busy.Unlock()
	}
}

func (s *Store) entry(userID int64) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{}
		s.entries[userID] = e
	}
	return e
}

// Get returns the user's session, expiring it lazily. An expired session has
// its transient resource released and is replaced with a fresh empty one.
func (s *Store) Get(userID int64) Session {
	e := s.entry(userID)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.sess.Active() && now.Sub(e.sess.LastActivity) > s.ttl {
		s.releaseResource(e.sess)
		logger.SESS.Info("session expired",
			slog.String("event", "session.expired"),
			slog.Int64("user_id", userID),
			slog.String("workflow", e.sess.Workflow.String()),
			slog.String("step", e.sess.Step.String()),
		)
		e.sess = Session{UserID: userID}
	}
	if e.sess.UserID == 0 {
		e.sess = Session{UserID: userID}
	}
	return e.sess
}

// Clear releases the session's transient resource and resets the session;
// the entry itself is dropped once the caller's Done runs. Clearing an
// absent session is not an error.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return
	}
	s.releaseResource(e.sess)
	e.sess = Session{UserID: userID}
}

// Replace installs new state for the user in a single step, releasing the
// previous session's transient resource when it differs from the new one.
func (s *Store) Replace(userID int64, next Session) {
	next.UserID = userID
	next.LastActivity = s.now()

	e := s.entry(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.sess.ImagePath != "" && e.sess.ImagePath != next.ImagePath {
		s.releaseResource(e.sess)
	}
	e.sess = next
}

// InProgress reports whether the user has an unexpired active workflow.
func (s *Store) InProgress(userID int64) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess := e.sess
	s.mu.Unlock()
	if !sess.Active() {
		return false
	}
	return s.now().Sub(sess.LastActivity) <= s.ttl
}

// releaseResource removes the session's transient file best-effort.
// Callers must hold s.mu.
func (s *Store) releaseResource(sess Session) {
	if sess.ImagePath == "" {
		return
	}
	if err := s.release(sess.ImagePath); err != nil && !os.IsNotExist(err) {
		logger.SESS.Warn("resource release failed",
			slog.String("event", "session.release_failed"),
			slog.Int64("user_id", sess.UserID),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.SESS.Debug("resource released",
		slog.String("event", "session.resource_released"),
		slog.Int64("user_id", sess.UserID),
	)
}
