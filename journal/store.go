// Package journal provides the durable, append-only log of coordinator
// decisions and pipeline step outcomes. The log is the source of truth for
// crash recovery: replaying a conversation's entries in sequence order
// reproduces its exact state without re-invoking external side effects.
//
// The store is single-writer per conversation id: only the conversation's
// coordinator loop appends, which is what makes plain monotonic sequence
// checks sufficient.
package journal

import (
	"context"
	"errors"

	"github.com/zimaxnet/engram/core"
)

var (
	// ErrSequenceGap is returned when an appended entry does not extend the
	// conversation's log by exactly one. It indicates a writer bug or a
	// corrupted log and is treated as fatal by the coordinator.
	ErrSequenceGap = errors.New("journal sequence gap")
)

// Store persists per-conversation append-only logs.
type Store interface {
	// Append adds one entry. The entry's Seq must be exactly one past the
	// current tail for the conversation (starting at 1); anything else
	// fails with ErrSequenceGap.
	Append(ctx context.Context, conversationID string, entry core.LogEntry) error

	// Entries returns all entries for the conversation in sequence order.
	// Unknown conversations yield an empty slice, not an error.
	Entries(ctx context.Context, conversationID string) ([]core.LogEntry, error)

	// Conversations lists every conversation id present in the log, in
	// unspecified order. Used by recovery scans after a restart.
	Conversations(ctx context.Context) ([]string, error)
}
