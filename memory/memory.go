// Package memory keeps the conversation log of each agent session as an
// append-only ordered list of turns.
package memory

import (
	"context"
	"sync"

	"github.com/fabfab/fundlens/llm"
)

type Store interface {
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	Append(ctx context.Context, sessionID string, messages ...llm.Message) error
	Clear(ctx context.Context, sessionID string) error
}

type InMemory struct {
	mu       sync.RWMutex
	sessions map[string][]llm.Message
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string][]llm.Message)}
}

var _ Store = (*InMemory)(nil)

func (m *InMemory) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]llm.Message(nil), m.sessions[sessionID]...), nil
}

func (m *InMemory) Append(_ context.Context, sessionID string, messages ...llm.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], messages...)
	return nil
}

func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
