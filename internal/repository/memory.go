package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"neonhub/internal/domain"
)

const (
	// DefaultIdleTTL is how long an untouched session stays in memory.
	DefaultIdleTTL = 24 * time.Hour

	sweepEvery = time.Minute
)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart
// and dropped once idle for longer than the idle TTL.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	lastSeen  map[string]time.Time
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithIdleTTL sets the idle TTL. Zero keeps sessions forever.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		m.idleTTL = ttl
	}
}

func NewMemory(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*domain.Session),
		lastSeen: make(map[string]time.Time),
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) CreateSession(_ context.Context, session domain.Session) error {
	if session.ID == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("repository: CreateSession: session %q already exists", session.ID)
	}
	stored := cloneSession(session)
	stored.Loading = false
	m.sessions[session.ID] = &stored
	m.lastSeen[session.ID] = now
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live(sessionID)
	if !ok {
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", domain.ErrSessionNotFound)
	}
	return cloneSession(*s), nil
}

func (m *MemoryStore) SaveTurn(_ context.Context, sessionID string, turn domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live(sessionID)
	if !ok {
		return fmt.Errorf("repository: SaveTurn: %w", domain.ErrSessionNotFound)
	}
	s.Messages = append(s.Messages, turn.User, turn.Reply)
	s.Title = turn.Title
	s.Turns++
	s.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) ResetSession(_ context.Context, sessionID string, greeting domain.Message) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live(sessionID)
	if !ok {
		return domain.Session{}, fmt.Errorf("repository: ResetSession: %w", domain.ErrSessionNotFound)
	}
	s.Generation++
	s.Title = ""
	s.Turns = 0
	s.Messages = []domain.Message{greeting}
	s.UpdatedAt = m.now().UTC()
	return cloneSession(*s), nil
}

// live returns the session and marks it as used. An expired session is
// removed and reported as missing. m.mu must be held.
func (m *MemoryStore) live(sessionID string) (*domain.Session, bool) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	now := m.now()
	if m.expired(sessionID, now) {
		m.drop(sessionID)
		return nil, false
	}
	m.lastSeen[sessionID] = now
	return s, true
}

// sweep drops every expired session, at most once per sweepEvery.
// m.mu must be held.
func (m *MemoryStore) sweep(now time.Time) {
	if m.idleTTL <= 0 || now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	m.lastSweep = now
	for id := range m.sessions {
		if m.expired(id, now) {
			m.drop(id)
		}
	}
}

func (m *MemoryStore) expired(sessionID string, now time.Time) bool {
	return m.idleTTL > 0 && now.Sub(m.lastSeen[sessionID]) > m.idleTTL
}

func (m *MemoryStore) drop(sessionID string) {
	delete(m.sessions, sessionID)
	delete(m.lastSeen, sessionID)
}

// cloneSession copies the message slice so callers never share backing
// arrays with the store.
func cloneSession(s domain.Session) domain.Session {
	msgs := make([]domain.Message, len(s.Messages))
	copy(msgs, s.Messages)
	s.Messages = msgs
	return s
}
