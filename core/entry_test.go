package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogEntryAndDecodePayload(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	entry, err := NewLogEntry(7, EntryTurnStarted, TurnStartedPayload{TurnID: "t-1", Input: "hello"}, ts)
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Seq)
	assert.Equal(t, ts, entry.Timestamp)

	var payload TurnStartedPayload
	require.NoError(t, DecodePayload(entry, &payload))
	assert.Equal(t, "hello", payload.Input)
}

func TestDecodePayload_CorruptIsFatal(t *testing.T) {
	entry := LogEntry{Seq: 1, Kind: EntryTurnStarted, Payload: []byte("not json")}

	var payload TurnStartedPayload
	err := DecodePayload(entry, &payload)
	assert.ErrorIs(t, err, ErrFatal)
}

func TestFingerprint(t *testing.T) {
	type input struct {
		A string `json:"a"`
		B int    `json:"b"`
	}

	first := Fingerprint(input{A: "x", B: 1})
	second := Fingerprint(input{A: "x", B: 1})
	different := Fingerprint(input{A: "x", B: 2})

	assert.Len(t, first, 64)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, different)
}

func TestFingerprint_SurvivesJSONRoundTrip(t *testing.T) {
	rc := Context{
		Security:    SecurityContext{TenantID: "acme", Roles: []string{"member"}},
		Episodic:    EpisodicState{ConversationID: "conv-1"},
		Operational: OperationalState{ActiveAgent: "agent-1"},
		Input:       "hello",
	}

	entry, err := NewLogEntry(1, EntryStepCompleted, rc, time.Now())
	require.NoError(t, err)

	var decoded Context
	require.NoError(t, DecodePayload(entry, &decoded))
	assert.Equal(t, Fingerprint(rc), Fingerprint(decoded))
}
