package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/zimaxnet/engram/core"
)

// InMemoryStore is a volatile Store keeping logs in a process-local map.
// Safe for concurrent access; entries are copied on the way out so callers
// cannot mutate the log. Best suited for tests and single-process demos.
type InMemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]core.LogEntry
}

// NewInMemoryStore constructs an empty in-memory journal.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string][]core.LogEntry)}
}

// Append adds one entry, enforcing the monotonic sequence contract.
func (s *InMemoryStore) Append(_ context.Context, conversationID string, entry core.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := int64(len(s.logs[conversationID]))
	if entry.Seq != tail+1 {
		return fmt.Errorf("%w: conversation %s has tail %d, got seq %d", ErrSequenceGap, conversationID, tail, entry.Seq)
	}
	s.logs[conversationID] = append(s.logs[conversationID], entry)
	return nil
}

// Entries returns a copy of the conversation's log in sequence order.
func (s *InMemoryStore) Entries(_ context.Context, conversationID string) ([]core.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]core.LogEntry, len(s.logs[conversationID]))
	copy(entries, s.logs[conversationID])
	return entries, nil
}

// Conversations lists every conversation id present in the log.
func (s *InMemoryStore) Conversations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	return ids, nil
}
