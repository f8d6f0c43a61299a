package history

import (
	"context"
	"sync"

	"github.com/crewmatch/coxswain/pkg/types"
)

// MemoryStore is a [Store] kept entirely in process memory. It backs sessions
// when no database is configured; transcripts are lost on process exit.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]memoryEntry
}

type memoryEntry struct {
	turns     []types.Turn
	finalText string
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]memoryEntry)}
}

// LoadTurns returns the stored turns for a conversation, oldest first. It
// returns (nil, nil) for a conversation that has never been saved.
func (s *MemoryStore) LoadTurns(_ context.Context, conversationID string) ([]types.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.convs[conversationID]
	if !ok {
		return nil, nil
	}
	return copyTurns(entry.turns), nil
}

// SaveFinal replaces the stored transcript for a conversation.
func (s *MemoryStore) SaveFinal(_ context.Context, conversationID string, turns []types.Turn, finalText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs[conversationID] = memoryEntry{turns: copyTurns(turns), finalText: finalText}
	return nil
}

// FinalText returns the last persisted final text for a conversation and
// whether the conversation exists.
func (s *MemoryStore) FinalText(conversationID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.convs[conversationID]
	return entry.finalText, ok
}

// copyTurns returns a copy the caller can mutate without affecting the store.
func copyTurns(turns []types.Turn) []types.Turn {
	if turns == nil {
		return nil
	}
	out := make([]types.Turn, len(turns))
	copy(out, turns)
	return out
}
