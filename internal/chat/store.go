// Package chat keeps the conversation history and agent status that back
// the HTTP and WebSocket surfaces.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AgentStatus is the coarse activity state shown to clients.
type AgentStatus string

const (
	StatusIdle       AgentStatus = "idle"
	StatusProcessing AgentStatus = "processing"
	StatusResponding AgentStatus = "responding"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultHistoryLimit = 200

// Store is a bounded in-memory conversation log. Oldest messages are
// dropped once the limit is reached. All methods are safe for concurrent
// use.
type Store struct {
	mu       sync.RWMutex
	limit    int
	messages []Message
	status   AgentStatus
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Store{
		limit:  limit,
		status: StatusIdle,
	}
}

// Append records a message and returns the stored copy with its assigned
// id and timestamp.
func (s *Store) Append(role Role, content string) Message {
	return s.AppendAndNotify(role, content, nil)
}

// AppendAndNotify records a message and invokes notify with the stored
// message while the write lock is still held, so observers see messages in
// exactly the order the store does.
func (s *Store) AppendAndNotify(role Role, content string, notify func(Message)) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if excess := len(s.messages) - s.limit; excess > 0 {
		s.messages = append(s.messages[:0], s.messages[excess:]...)
	}
	if notify != nil {
		notify(msg)
	}
	return msg
}

// History returns a copy of the retained messages, oldest first.
func (s *Store) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) Status() AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus updates the agent status and reports whether it changed.
func (s *Store) SetStatus(status AgentStatus) bool {
	return s.SetStatusAndNotify(status, nil)
}

// SetStatusAndNotify updates the status and, if it changed, invokes notify
// under the write lock.
func (s *Store) SetStatusAndNotify(status AgentStatus, notify func(AgentStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return false
	}
	s.status = status
	if notify != nil {
		notify(status)
	}
	return true
}

// Clear drops the retained history. Status is left untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
