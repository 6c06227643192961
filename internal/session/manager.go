package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
	ErrBusy     = errors.New("session busy")
	// ErrTurnOrder means an agent turn was appended without a pending user
	// turn. This is an append-order invariant violation, never expected.
	ErrTurnOrder = errors.New("turn order violation")
)

// Turn is one utterance within a session, immutable once appended.
type Turn struct {
	ID   string    `json:"turn_id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is a bounded conversation with an append-only, time-ordered turn
// history. Manager methods hand out deep copies; callers never share state.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	Turns          []Turn    `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type sessionState struct {
	Session
	processing bool
}

// Manager owns the session table and enforces single-writer-per-session
// turn processing.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionState
	idleTimeout time.Duration
	onExpire    func(*Session)
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:    make(map[string]*sessionState),
		idleTimeout: idleTimeout,
	}
}

// SetExpireHook registers a callback invoked after the janitor transitions an
// idle session to ended. The hook receives a copy including the turn history.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create() *Session {
	now := time.Now().UTC()
	s := &sessionState{Session: Session{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// BeginTurn acquires the session's turn guard. At most one caller holds it at
// a time; a second concurrent turn gets ErrBusy rather than interleaving.
func (m *Manager) BeginTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	if s.processing {
		return ErrBusy
	}
	s.processing = true
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// FinishTurn releases the turn guard. Safe to call on an ended session so a
// timed-out turn never leaves the guard held.
func (m *Manager) FinishTurn(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.processing = false
		s.LastActivityAt = time.Now().UTC()
	}
}

// AppendUserTurn records a user utterance. If the trailing turn is an
// unanswered user turn with identical text, it is reused instead of appended
// so a retry after a failed generation never duplicates the user turn.
func (m *Manager) AppendUserTurn(sessionID, text string) (Turn, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Turn{}, false, ErrNotFound
	}
	if s.Status != StatusActive {
		return Turn{}, false, ErrEnded
	}

	if n := len(s.Turns); n > 0 {
		last := s.Turns[n-1]
		if last.Role == RoleUser && last.Text == text {
			s.LastActivityAt = time.Now().UTC()
			return last, false, nil
		}
	}

	turn := s.appendTurn(RoleUser, text)
	return turn, true, nil
}

// AppendAgentTurn records the reply to the pending user turn.
func (m *Manager) AppendAgentTurn(sessionID, text string) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Turn{}, ErrNotFound
	}
	if s.Status != StatusActive {
		return Turn{}, ErrEnded
	}
	if n := len(s.Turns); n == 0 || s.Turns[n-1].Role != RoleUser {
		return Turn{}, ErrTurnOrder
	}

	return s.appendTurn(RoleAgent, text), nil
}

// RecentTurns returns up to limit most recent turns in chronological order.
func (m *Manager) RecentTurns(sessionID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	turns := s.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// End transitions a session to ended. Idempotent; the returned copy carries
// the full turn history for end-of-session summarization.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.processing = false
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireIdle() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive || s.processing {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.idleTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// appendTurn assumes the manager lock is held. Timestamps are clamped so the
// history stays monotonically ordered even across clock adjustments.
func (s *sessionState) appendTurn(role Role, text string) Turn {
	now := time.Now().UTC()
	if n := len(s.Turns); n > 0 && now.Before(s.Turns[n-1].At) {
		now = s.Turns[n-1].At
	}
	turn := Turn{
		ID:   uuid.NewString(),
		Role: role,
		Text: text,
		At:   now,
	}
	s.Turns = append(s.Turns, turn)
	s.LastActivityAt = now
	return turn
}

func clone(s *sessionState) *Session {
	c := s.Session
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	return &c
}
