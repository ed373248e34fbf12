package convstore

import (
	"context"
	"sync"
	"time"

	"chatd/pkg/types"
)

// Memory keeps conversations in a process-local map. It is the default
// driver and the one the tests lean on.
type Memory struct {
	mu    sync.RWMutex
	convs map[string]*types.Conversation
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{convs: make(map[string]*types.Conversation)}
}

func (m *Memory) Create(_ context.Context, conv *types.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv.Version = 1
	stored := conv.Clone()
	m.convs[conv.ID] = &stored
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*types.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.convs[id]
	if !ok {
		return nil, nil
	}
	out := stored.Clone()
	return &out, nil
}

func (m *Memory) Update(_ context.Context, conv *types.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.convs[conv.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != conv.Version {
		return ErrVersionConflict
	}
	conv.Version++
	conv.UpdatedAt = time.Now().UTC()
	next := conv.Clone()
	m.convs[conv.ID] = &next
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.convs, id)
	return nil
}

func (m *Memory) Close() error { return nil }
