package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/internal/testutil"
	"github.com/zimaxnet/engram/journal"
	"github.com/zimaxnet/engram/memory"
	"github.com/zimaxnet/engram/pipeline"
	"github.com/zimaxnet/engram/reasoning"
)

// driveConversation runs a few turns and a handoff against the store and
// returns the coordinator for inspection.
func driveConversation(t *testing.T, store journal.Store) *Coordinator {
	t.Helper()
	rg := reasoning.NewMockGateway()
	rg.AddResponse("first", core.ReasoningResponse{Text: "answer one", Confidence: 1.0})
	rg.AddResponse("second", core.ReasoningResponse{Text: "answer two", Confidence: 1.0})

	c := newTestCoordinator(t, store, rg)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, "conv-1", sec(), "agent-1"))
	require.NoError(t, c.Signal(ctx, "conv-1", core.SendMessage(sec(), "first")))
	require.NoError(t, c.Signal(ctx, "conv-1", core.SwitchAgent(sec(), "agent-2")))
	require.NoError(t, c.Signal(ctx, "conv-1", core.SendMessage(sec(), "second")))

	require.Eventually(t, func() bool {
		n, err := c.GetTurnCount("conv-1")
		return err == nil && n == 2
	}, waitFor, tick)
	waitStatus(t, c, "conv-1", core.StatusActive)
	return c
}

func assertSameTurn(t *testing.T, want, got core.Turn) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Sequence, got.Sequence)
	assert.Equal(t, want.Input, got.Input)
	assert.Equal(t, want.AgentID, got.AgentID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.FailureCode, got.FailureCode)
	assert.Equal(t, want.ResponseText(), got.ResponseText())
	assert.Equal(t, want.Verdict, got.Verdict)
	assert.Equal(t, want.FactRefs, got.FactRefs)
	assert.True(t, want.StartedAt.Equal(got.StartedAt), "StartedAt %v vs %v", want.StartedAt, got.StartedAt)
	assert.True(t, want.CompletedAt.Equal(got.CompletedAt), "CompletedAt %v vs %v", want.CompletedAt, got.CompletedAt)
}

func TestRecover_ReproducesConversationState(t *testing.T) {
	store := journal.NewInMemoryStore()
	live := driveConversation(t, store)

	liveTurns, err := live.GetHistory("conv-1")
	require.NoError(t, err)
	liveStatus, err := live.GetStatus("conv-1")
	require.NoError(t, err)
	live.Close()

	// Replay must not touch any external service.
	rg := reasoning.NewMockGateway()
	recovered := newTestCoordinator(t, store, rg)
	require.NoError(t, recovered.Recover(context.Background()))
	assert.Zero(t, rg.Calls())

	gotTurns, err := recovered.GetHistory("conv-1")
	require.NoError(t, err)
	require.Len(t, gotTurns, len(liveTurns))
	for i := range liveTurns {
		assertSameTurn(t, liveTurns[i], gotTurns[i])
	}

	gotStatus, err := recovered.GetStatus("conv-1")
	require.NoError(t, err)
	assert.Equal(t, liveStatus.Status, gotStatus.Status)
	assert.Equal(t, liveStatus.ActiveAgent, gotStatus.ActiveAgent)
	assert.Equal(t, liveStatus.TurnCount, gotStatus.TurnCount)
}

func TestRecover_ConversationRemainsUsable(t *testing.T) {
	store := journal.NewInMemoryStore()
	driveConversation(t, store).Close()

	recovered := newTestCoordinator(t, store, reasoning.NewMockGateway())
	ctx := context.Background()
	require.NoError(t, recovered.Recover(ctx))

	require.NoError(t, recovered.Signal(ctx, "conv-1", core.SendMessage(sec(), "third")))
	require.Eventually(t, func() bool {
		n, err := recovered.GetTurnCount("conv-1")
		return err == nil && n == 3
	}, waitFor, tick)
	waitStatus(t, recovered, "conv-1", core.StatusActive)

	turns, err := recovered.GetHistory("conv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, turns[2].Sequence)
	assert.Equal(t, "agent-2", turns[2].AgentID)
}

// crashPrefix builds a journal that ends mid-turn: conversation started, turn
// started, enrich and reason checkpointed, then nothing.
func crashPrefix(t *testing.T) journal.Store {
	t.Helper()
	ctx := context.Background()
	scratch := journal.NewInMemoryStore()
	clock := testutil.Clock()
	w := journal.NewWriter(scratch, "conv-1", 0)

	_, err := w.Append(ctx, core.EntryConversationStarted, "", "", 0, "",
		core.ConversationStartedPayload{TenantID: "acme", AgentID: "agent-1"}, clock())
	require.NoError(t, err)
	_, err = w.Append(ctx, core.EntryTurnStarted, "t-1", "", 0, "",
		core.TurnStartedPayload{TurnID: "t-1", Sequence: 1, Input: "hello", AgentID: "agent-1", Security: sec()}, clock())
	require.NoError(t, err)

	rg := reasoning.NewMockGateway()
	rg.AddResponse("hello", core.ReasoningResponse{Text: "hi there", Confidence: 1.0})
	exec := pipeline.NewExecutor(memory.NewInMemoryGateway(), rg, func(o *pipeline.Options) {
		o.Clock = clock
	})
	_, err = exec.Run(ctx, pipeline.Request{
		Writer:   w,
		TenantID: "acme",
		Agent:    testutil.Agent("agent-1", "acme"),
		Security: sec(),
		Episodic: core.EpisodicState{ConversationID: "conv-1"},
		Turn:     core.Turn{ID: "t-1", Sequence: 1, Input: "hello", AgentID: "agent-1", Status: core.TurnPending, StartedAt: testutil.Epoch},
	})
	require.NoError(t, err)

	entries, err := scratch.Entries(ctx, "conv-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 4)

	crashed := journal.NewInMemoryStore()
	for _, e := range entries[:4] {
		require.NoError(t, crashed.Append(ctx, "conv-1", e))
	}
	return crashed
}

func TestRecover_ResumesInterruptedTurnWithoutReasoning(t *testing.T) {
	store := crashPrefix(t)

	rg := reasoning.NewMockGateway() // would echo, not say "hi there"
	c := newTestCoordinator(t, store, rg)
	ctx := context.Background()
	require.NoError(t, c.Recover(ctx))

	waitStatus(t, c, "conv-1", core.StatusActive)

	turns, err := c.GetHistory("conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, core.TurnDone, turns[0].Status)
	assert.Equal(t, "hi there", turns[0].ResponseText())

	// The recorded reasoning output was reused verbatim.
	assert.Zero(t, rg.Calls())

	// The journal now carries the validate, persist and completion records.
	entries, err := store.Entries(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, entries, 7)
	assert.Equal(t, core.StepValidate, entries[4].Step)
	assert.Equal(t, core.StepPersist, entries[5].Step)
	assert.Equal(t, core.EntryTurnCompleted, entries[6].Kind)
}

func TestRecover_QuarantinesCorruptLog(t *testing.T) {
	ctx := context.Background()
	store := journal.NewInMemoryStore()
	// A log that does not open with conversation_started is corrupt.
	require.NoError(t, store.Append(ctx, "conv-bad", core.LogEntry{
		Seq: 1, Kind: core.EntryTurnStarted, Payload: []byte(`{}`), Timestamp: testutil.Epoch,
	}))

	c := newTestCoordinator(t, store, reasoning.NewMockGateway())
	require.NoError(t, c.Recover(ctx))

	st, err := c.GetStatus("conv-bad")
	require.NoError(t, err)
	assert.Equal(t, core.StatusQuarantined, st.Status)

	err = c.Signal(ctx, "conv-bad", core.Cancel(sec()))
	assert.ErrorIs(t, err, core.ErrQuarantined)
}

func TestReplayConversation_Folds(t *testing.T) {
	ctx := context.Background()
	clock := testutil.Clock()
	store := journal.NewInMemoryStore()
	w := journal.NewWriter(store, "conv-1", 0)

	_, err := w.Append(ctx, core.EntryConversationStarted, "", "", 0, "",
		core.ConversationStartedPayload{TenantID: "acme", AgentID: "agent-1"}, clock())
	require.NoError(t, err)
	_, err = w.Append(ctx, core.EntryAgentSwitched, "", "", 0, "",
		core.AgentSwitchedPayload{AgentID: "agent-2"}, clock())
	require.NoError(t, err)
	_, err = w.Append(ctx, core.EntryCancelled, "", "", 0, "", core.CancelledPayload{Reason: "done"}, clock())
	require.NoError(t, err)

	entries, err := store.Entries(ctx, "conv-1")
	require.NoError(t, err)

	st, err := replayConversation("conv-1", entries)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.tail)
	assert.Nil(t, st.inFlight)
	snap := st.conv.Snapshot()
	assert.Equal(t, "acme", snap.TenantID)
	assert.Equal(t, "agent-2", snap.ActiveAgent)
	assert.Equal(t, core.StatusCompleted, snap.Status)
}

func TestReplayConversation_Errors(t *testing.T) {
	_, err := replayConversation("conv-1", nil)
	assert.ErrorIs(t, err, core.ErrFatal)

	_, err = replayConversation("conv-1", []core.LogEntry{
		{Seq: 1, Kind: core.EntryKind("garbage"), Payload: []byte(`{}`), Timestamp: time.Now()},
	})
	assert.ErrorIs(t, err, core.ErrFatal)
}

// reviewCrashPrefix builds a journal whose turn exhausted validation but
// crashed before the review request was recorded.
func reviewCrashPrefix(t *testing.T) journal.Store {
	t.Helper()
	ctx := context.Background()
	store := journal.NewInMemoryStore()
	clock := testutil.Clock()
	w := journal.NewWriter(store, "conv-1", 0)

	_, err := w.Append(ctx, core.EntryConversationStarted, "", "", 0, "",
		core.ConversationStartedPayload{TenantID: "acme", AgentID: "agent-1"}, clock())
	require.NoError(t, err)
	_, err = w.Append(ctx, core.EntryTurnStarted, "t-1", "", 0, "",
		core.TurnStartedPayload{TurnID: "t-1", Sequence: 1, Input: "say the forbidden word", AgentID: "agent-1", Security: sec()}, clock())
	require.NoError(t, err)

	exec := pipeline.NewExecutor(memory.NewInMemoryGateway(), &scriptGateway{}, func(o *pipeline.Options) {
		o.Clock = clock
		o.Validator = pipeline.NewValidator(func(vo *pipeline.ValidatorOptions) {
			vo.RestrictedTerms = []string{"forbidden"}
		})
	})
	_, err = exec.Run(ctx, pipeline.Request{
		Writer:   w,
		TenantID: "acme",
		Agent:    testutil.Agent("agent-1", "acme"),
		Security: sec(),
		Episodic: core.EpisodicState{ConversationID: "conv-1"},
		Turn:     core.Turn{ID: "t-1", Sequence: 1, Input: "say the forbidden word", AgentID: "agent-1", Status: core.TurnPending, StartedAt: testutil.Epoch},
	})
	require.ErrorIs(t, err, core.ErrValidationExhausted)
	return store
}

func TestRecover_ExhaustedTurnStillAwaitsReview(t *testing.T) {
	store := reviewCrashPrefix(t)

	rg := reasoning.NewMockGateway()
	c := newTestCoordinator(t, store, rg)
	ctx := context.Background()
	require.NoError(t, c.Recover(ctx))
	assert.Zero(t, rg.Calls())

	st, err := c.GetStatus("conv-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAwaitingSignal, st.Status)
	assert.Equal(t, "t-1", st.PendingReview)

	turns, err := c.GetHistory("conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, core.TurnFailed, turns[0].Status)
	assert.Equal(t, "validation_exhausted", turns[0].FailureCode)

	// The recovered review resolves the way a live one does.
	require.NoError(t, c.Signal(ctx, "conv-1", core.Reject(sec(), "t-1", "not acceptable")))
	waitStatus(t, c, "conv-1", core.StatusFailed)
}

func TestRecover_CancelledTurnCompletesConversation(t *testing.T) {
	ctx := context.Background()
	store := journal.NewInMemoryStore()
	clock := testutil.Clock()
	w := journal.NewWriter(store, "conv-1", 0)

	_, err := w.Append(ctx, core.EntryConversationStarted, "", "", 0, "",
		core.ConversationStartedPayload{TenantID: "acme", AgentID: "agent-1"}, clock())
	require.NoError(t, err)
	_, err = w.Append(ctx, core.EntryTurnStarted, "t-1", "", 0, "",
		core.TurnStartedPayload{TurnID: "t-1", Sequence: 1, Input: "hello", AgentID: "agent-1", Security: sec()}, clock())
	require.NoError(t, err)

	exec := pipeline.NewExecutor(memory.NewInMemoryGateway(), reasoning.NewMockGateway(), func(o *pipeline.Options) {
		o.Clock = clock
	})
	_, err = exec.Run(ctx, pipeline.Request{
		Writer:          w,
		TenantID:        "acme",
		Agent:           testutil.Agent("agent-1", "acme"),
		Security:        sec(),
		Episodic:        core.EpisodicState{ConversationID: "conv-1"},
		Turn:            core.Turn{ID: "t-1", Sequence: 1, Input: "hello", AgentID: "agent-1", Status: core.TurnPending, StartedAt: testutil.Epoch},
		CancelRequested: func() bool { return true },
	})
	require.ErrorIs(t, err, pipeline.ErrCancelled)
	// Crash before the coordinator's cancellation record was appended.

	c := newTestCoordinator(t, store, reasoning.NewMockGateway())
	require.NoError(t, c.Recover(ctx))

	st, err := c.GetStatus("conv-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, st.Status)
	assert.Empty(t, st.PendingReview)

	err = c.Signal(ctx, "conv-1", core.SendMessage(sec(), "more"))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}
