package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zimaxnet/engram/core"
)

// SQLiteStore is the canonical durable Store, backed by a single SQLite
// database file. WAL mode keeps readers (queries, recovery scans) from
// blocking the per-conversation writers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the journal database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process coordinator. One shared connection avoids writer lock
	// contention with SQLite under concurrent conversation goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			turn_id TEXT NOT NULL DEFAULT '',
			step TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL DEFAULT 0,
			fingerprint TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS log_entries_conv_idx ON log_entries(conversation_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

// Append adds one entry, enforcing the monotonic sequence contract inside a
// transaction so a concurrent reader never observes a half-written tail.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, entry core.LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tail int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM log_entries WHERE conversation_id = ?`, conversationID)
	if err := row.Scan(&tail); err != nil {
		return fmt.Errorf("read journal tail: %w", err)
	}
	if entry.Seq != tail+1 {
		return fmt.Errorf("%w: conversation %s has tail %d, got seq %d", ErrSequenceGap, conversationID, tail, entry.Seq)
	}

	payload := entry.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO log_entries
			(conversation_id, seq, kind, turn_id, step, attempt, fingerprint, payload, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, entry.Seq, string(entry.Kind), entry.TurnID, string(entry.Step),
		entry.Attempt, entry.Fingerprint, string(payload), entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return tx.Commit()
}

// Entries returns all entries for the conversation in sequence order.
func (s *SQLiteStore) Entries(ctx context.Context, conversationID string) ([]core.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, turn_id, step, attempt, fingerprint, payload, created_at_ms
		 FROM log_entries WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []core.LogEntry
	for rows.Next() {
		var (
			e       core.LogEntry
			kind    string
			step    string
			payload string
			ms      int64
		)
		if err := rows.Scan(&e.Seq, &kind, &e.TurnID, &step, &e.Attempt, &e.Fingerprint, &payload, &ms); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Kind = core.EntryKind(kind)
		e.Step = core.Step(step)
		e.Payload = json.RawMessage(payload)
		e.Timestamp = time.UnixMilli(ms).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

// Conversations lists every conversation id present in the journal.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM log_entries`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return ids, nil
}
