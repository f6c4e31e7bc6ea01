package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zimaxnet/engram/core"
)

// Writer is the single-writer handle for one conversation's log. It assigns
// sequence numbers and marshals payloads so callers only deal with typed
// payload structs. Not safe for concurrent use: exactly one goroutine (the
// conversation's coordinator loop) may hold a Writer.
type Writer struct {
	store          Store
	conversationID string
	next           int64
}

// NewWriter creates a writer positioned after tail (0 for a new conversation).
func NewWriter(store Store, conversationID string, tail int64) *Writer {
	return &Writer{store: store, conversationID: conversationID, next: tail + 1}
}

// ConversationID returns the conversation this writer appends for.
func (w *Writer) ConversationID() string { return w.conversationID }

// Append marshals payload into an entry at the next sequence number and
// persists it. The returned entry carries the assigned sequence and the
// timestamp recorded in the log, which replay uses verbatim.
func (w *Writer) Append(ctx context.Context, kind core.EntryKind, turnID string, step core.Step, attempt int, fingerprint string, payload any, ts time.Time) (core.LogEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return core.LogEntry{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	entry := core.LogEntry{
		Seq:         w.next,
		Kind:        kind,
		TurnID:      turnID,
		Step:        step,
		Attempt:     attempt,
		Fingerprint: fingerprint,
		Payload:     raw,
		Timestamp:   ts,
	}
	if err := w.store.Append(ctx, w.conversationID, entry); err != nil {
		return core.LogEntry{}, fmt.Errorf("%w: append %s: %v", core.ErrFatal, kind, err)
	}
	w.next++
	return entry, nil
}
