package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"groovecast/internal/core"
)

// MemoryQueueStore keeps queue snapshots in process memory.
type MemoryQueueStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{states: make(map[string][]byte)}
}

func (s *MemoryQueueStore) SaveQueueState(_ context.Context, chatID string, snapshot *core.QueueSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.states[chatID] = data
	s.mu.Unlock()
	return nil
}

// LoadQueueState returns nil, nil when nothing is saved for the chat.
func (s *MemoryQueueStore) LoadQueueState(_ context.Context, chatID string) (*core.QueueSnapshot, error) {
	s.mu.RLock()
	data, ok := s.states[chatID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeSnapshot(data)
}

func (s *MemoryQueueStore) DeleteQueueState(_ context.Context, chatID string) error {
	s.mu.Lock()
	delete(s.states, chatID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of chats with saved state.
func (s *MemoryQueueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func encodeSnapshot(snapshot *core.QueueSnapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue state: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*core.QueueSnapshot, error) {
	var snapshot core.QueueSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode queue state: %w", err)
	}
	return &snapshot, nil
}
