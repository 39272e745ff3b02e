package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/unhabit/internal/keyed"
)

// Manager keeps at most one active session per user. Sessions idle for longer than the
// inactivity timeout are dropped and reported to the expire hook.
type Manager struct {
	mu                sync.RWMutex
	sessions          *keyed.Map[Session]
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	m := &Manager{
		sessions:          keyed.New[Session](inactivityTimeout),
		inactivityTimeout: inactivityTimeout,
	}
	m.sessions.OnEvict(m.expired)
	return m
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

// Open creates the session for userID seeded with msgs. It fails with ErrSessionActive
// when the user already has one.
func (m *Manager) Open(userID string, msgs ...Message) (*Session, error) {
	var (
		out *Session
		err error
	)
	m.sessions.Do(userID, func(s *Session, exists bool) bool {
		if exists {
			err = ErrSessionActive
			return true
		}
		now := time.Now().UTC()
		*s = Session{
			ID:             uuid.NewString(),
			UserID:         userID,
			Status:         StatusActive,
			Messages:       append([]Message(nil), msgs...),
			StartedAt:      now,
			LastActivityAt: now,
		}
		out = clone(s)
		return true
	})
	return out, err
}

// Append adds msgs to the active session of userID.
func (m *Manager) Append(userID string, msgs ...Message) (*Session, error) {
	var out *Session
	found := false
	m.sessions.Do(userID, func(s *Session, exists bool) bool {
		if !exists {
			return false
		}
		found = true
		s.Messages = append(s.Messages, msgs...)
		s.LastActivityAt = time.Now().UTC()
		out = clone(s)
		return true
	})
	if !found {
		return nil, ErrNoActiveSession
	}
	return out, nil
}

func (m *Manager) Get(userID string) (*Session, error) {
	s, ok := m.sessions.Load(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	return clone(&s), nil
}

// Window returns the last n buffered messages of the active session.
func (m *Manager) Window(userID string, n int) ([]Message, error) {
	s, err := m.Get(userID)
	if err != nil {
		return nil, err
	}
	msgs := s.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// Close removes the active session and returns its final state. Of several concurrent
// callers exactly one receives the session; the rest get ErrNoActiveSession.
func (m *Manager) Close(userID string) (*Session, error) {
	var out *Session
	m.sessions.Do(userID, func(s *Session, exists bool) bool {
		if !exists {
			return false
		}
		s.Status = StatusEnded
		s.LastActivityAt = time.Now().UTC()
		out = clone(s)
		return false
	})
	if out == nil {
		return nil, ErrNoActiveSession
	}
	return out, nil
}

// Clear drops the session of userID without summarizing it.
func (m *Manager) Clear(userID string) bool {
	return m.sessions.Delete(userID)
}

func (m *Manager) ActiveCount() int {
	return m.sessions.Len()
}

func (m *Manager) Users() []string {
	return m.sessions.Keys()
}

func (m *Manager) expired(_ string, s Session) {
	m.mu.RLock()
	hook := m.onExpire
	m.mu.RUnlock()
	if hook == nil {
		return
	}
	s.Status = StatusEnded
	hook(clone(&s))
}

func clone(s *Session) *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}
