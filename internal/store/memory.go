package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a simple in-process store for local/dev use and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	agents   map[int64]Agent
	accounts map[string]Account
	chats    map[chatKey][]ChatMessage
	nextID   int64
}

type chatKey struct {
	sessionID int64
	senderID  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]Session),
		agents:   make(map[int64]Agent),
		accounts: make(map[string]Account),
		chats:    make(map[chatKey][]ChatMessage),
		nextID:   1,
	}
}

func (s *MemoryStore) GetSession(_ context.Context, id int64) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Deleted {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) ListActiveSessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.Active && !sess.Deleted {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetSessionActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Deleted {
		return ErrNotFound
	}
	sess.Active = active
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess Session) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == 0 {
		sess.ID = s.nextID
		s.nextID++
	} else if sess.ID >= s.nextID {
		s.nextID = sess.ID + 1
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.sessions[sess.ID] = sess
	return sess.ID, nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id int64) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok || a.Deleted {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) CreateAgent(_ context.Context, a Agent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.nextID
		s.nextID++
	} else if a.ID >= s.nextID {
		s.nextID = a.ID + 1
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.agents[a.ID] = a
	return a.ID, nil
}

func (s *MemoryStore) EnsureAccount(_ context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.accounts[a.ID] = a
	return nil
}

// AccountCount reports provisioned accounts; used by tests.
func (s *MemoryStore) AccountCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

func (s *MemoryStore) AppendExchange(_ context.Context, m ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	key := chatKey{sessionID: m.SessionID, senderID: m.SenderID}
	s.chats[key] = append(s.chats[key], m)
	return nil
}

func (s *MemoryStore) History(_ context.Context, sessionID int64, senderID string, limit int) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.chats[chatKey{sessionID: sessionID, senderID: senderID}]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]ChatMessage, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
