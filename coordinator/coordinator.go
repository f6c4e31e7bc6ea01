// Package coordinator owns conversation lifecycles. Each conversation gets a
// dedicated mailbox goroutine, so its signals are processed strictly in
// arrival order while distinct conversations run in parallel. Every state
// change is journaled before it is applied, which lets Recover rebuild all
// conversations from the log after a crash and resume any turn that was cut
// off mid-pipeline.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zimaxnet/engram/assembler"
	"github.com/zimaxnet/engram/config"
	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/journal"
	"github.com/zimaxnet/engram/logging"
	"github.com/zimaxnet/engram/pipeline"
	"github.com/zimaxnet/engram/router"
)

// Options configures a Coordinator.
type Options struct {
	Config    config.Config
	Validator *pipeline.Validator
	Logger    logging.Logger
	// Clock supplies journal timestamps. Overridable so tests get stable
	// times.
	Clock func() time.Time
}

// Coordinator dispatches signals to conversations and answers queries about
// them. It is safe for concurrent use.
type Coordinator struct {
	store    journal.Store
	router   *router.Router
	executor *pipeline.Executor
	logger   logging.Logger
	cfg      config.Config
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	convs  map[string]*runtime
	closed bool
	wg     sync.WaitGroup
}

// runtime is the in-process state of one conversation: its entity, its
// single-writer journal handle and its signal mailbox.
type runtime struct {
	conv    *core.Conversation
	writer  *journal.Writer
	signals chan core.Signal
	// cancelRequested is polled by the pipeline at step boundaries so a
	// cancel lands mid-turn without interrupting a checkpointed step.
	// cancelReason holds the requesting signal's reason for the journal
	// record; it is stored before the flag so the mailbox loop sees both.
	cancelRequested atomic.Bool
	cancelReason    atomic.Value
	quarantined     atomic.Bool
	// resume holds a turn recovered mid-pipeline; the mailbox loop finishes
	// it before reading any signal.
	resume *inFlightTurn
}

func (rt *runtime) requestedCancelReason() string {
	if r, ok := rt.cancelReason.Load().(string); ok {
		return r
	}
	return ""
}

// New creates a Coordinator over the given journal store, memory and
// reasoning gateways and agent router.
func New(store journal.Store, mem core.MemoryGateway, rg core.ReasoningGateway, rt *router.Router, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Config:    config.Default(),
		Validator: pipeline.NewValidator(),
		Logger:    logging.NoOpLogger{},
		Clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	exec := pipeline.NewExecutor(mem, rg, func(o *pipeline.Options) {
		o.Config = pipeline.Config{
			MaxRecentTurns:       opts.Config.MaxRecentTurns,
			EnrichMaxAttempts:    opts.Config.EnrichMaxAttempts,
			PersistMaxAttempts:   opts.Config.PersistMaxAttempts,
			ReasonMaxAttempts:    opts.Config.ReasonMaxAttempts,
			ValidationRetryLimit: opts.Config.ValidationRetryLimit,
			ReasoningTimeout:     opts.Config.ReasoningTimeout,
			RetryInitialInterval: opts.Config.RetryInitialInterval,
		}
		o.Validator = opts.Validator
		o.Logger = opts.Logger
		o.Clock = opts.Clock
	})
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		router:   rt,
		executor: exec,
		logger:   opts.Logger,
		cfg:      opts.Config,
		now:      opts.Clock,
		baseCtx:  ctx,
		cancel:   cancel,
		convs:    make(map[string]*runtime),
	}
}

// Start creates a conversation with the given id for the caller's tenant,
// handled initially by the named agent. Starting an existing conversation is
// a no-op for the same tenant and ErrAlreadyExists for any other.
func (c *Coordinator) Start(ctx context.Context, conversationID string, sec core.SecurityContext, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: coordinator closed", core.ErrInvalidState)
	}
	if rt, ok := c.convs[conversationID]; ok {
		if rt.conv.TenantID != sec.TenantID {
			return fmt.Errorf("%w: conversation %s", core.ErrAlreadyExists, conversationID)
		}
		return nil
	}

	desc, err := c.router.Authorize(agentID, sec.TenantID, sec.Roles)
	if err != nil {
		return err
	}

	writer := journal.NewWriter(c.store, conversationID, 0)
	entry, err := writer.Append(ctx, core.EntryConversationStarted, "", "", 0, "",
		core.ConversationStartedPayload{TenantID: sec.TenantID, AgentID: desc.ID}, c.now())
	if err != nil {
		return err
	}

	rt := &runtime{
		conv:    core.NewConversation(conversationID, sec.TenantID, desc.ID, entry.Timestamp),
		writer:  writer,
		signals: make(chan core.Signal, c.cfg.SignalQueueDepth),
	}
	c.convs[conversationID] = rt
	c.wg.Add(1)
	go c.runLoop(rt)
	c.logger.Info("conversation %s started for tenant %s with agent %s", conversationID, sec.TenantID, desc.ID)
	return nil
}

// Signal delivers one signal to a conversation. Validation happens here,
// synchronously; accepted signals are queued and processed by the
// conversation's mailbox loop in arrival order. A full mailbox rejects the
// signal with ErrQueueFull instead of blocking.
func (c *Coordinator) Signal(_ context.Context, conversationID string, sig core.Signal) error {
	rt, err := c.runtime(conversationID)
	if err != nil {
		return err
	}
	if rt.quarantined.Load() {
		return fmt.Errorf("%w: conversation %s", core.ErrQuarantined, conversationID)
	}
	snap := rt.conv.Snapshot()
	if sig.Security.TenantID != snap.TenantID {
		return fmt.Errorf("%w: tenant %s does not own conversation %s", core.ErrUnauthorized, sig.Security.TenantID, conversationID)
	}

	switch sig.Kind {
	case core.SignalCancel:
		if snap.Status.Terminal() {
			return fmt.Errorf("%w: conversation %s is %s", core.ErrInvalidState, conversationID, snap.Status)
		}
		// The flag lands immediately so an in-flight turn stops at the next
		// step boundary; the queued signal covers the idle case.
		rt.cancelReason.Store(sig.Reason)
		rt.cancelRequested.Store(true)
		select {
		case rt.signals <- sig:
		default:
		}
		return nil

	case core.SignalSendMessage, core.SignalSwitchAgent:
		if snap.Status != core.StatusActive && snap.Status != core.StatusTurnInFlight {
			return fmt.Errorf("%w: conversation %s is %s", core.ErrInvalidState, conversationID, snap.Status)
		}
		if sig.Kind == core.SignalSwitchAgent {
			if _, err := c.router.Authorize(sig.AgentID, snap.TenantID, sig.Security.Roles); err != nil {
				return err
			}
		}

	case core.SignalApprove, core.SignalReject:
		if snap.Status != core.StatusAwaitingSignal {
			return fmt.Errorf("%w: conversation %s is %s, not awaiting review", core.ErrInvalidState, conversationID, snap.Status)
		}
		if sig.TurnID != snap.PendingReview {
			return fmt.Errorf("%w: turn %s is not under review", core.ErrNotFound, sig.TurnID)
		}

	default:
		return fmt.Errorf("%w: unknown signal kind %q", core.ErrInvalidState, sig.Kind)
	}

	select {
	case rt.signals <- sig:
		return nil
	default:
		return fmt.Errorf("%w: conversation %s", core.ErrQueueFull, conversationID)
	}
}

// GetHistory returns copies of all turns of the conversation in order.
func (c *Coordinator) GetHistory(conversationID string) ([]core.Turn, error) {
	rt, err := c.runtime(conversationID)
	if err != nil {
		return nil, err
	}
	return rt.conv.Snapshot().Turns, nil
}

// GetTurnCount returns the number of turns created so far, including the one
// in flight.
func (c *Coordinator) GetTurnCount(conversationID string) (int, error) {
	rt, err := c.runtime(conversationID)
	if err != nil {
		return 0, err
	}
	return rt.conv.TurnCount(), nil
}

// StatusReport is the answer to a get_status query.
type StatusReport struct {
	ConversationID string      `json:"conversation_id"`
	Status         core.Status `json:"status"`
	ActiveAgent    string      `json:"active_agent"`
	PendingReview  string      `json:"pending_review,omitempty"`
	TurnCount      int         `json:"turn_count"`
}

// GetStatus returns the conversation's current lifecycle state.
func (c *Coordinator) GetStatus(conversationID string) (StatusReport, error) {
	rt, err := c.runtime(conversationID)
	if err != nil {
		return StatusReport{}, err
	}
	snap := rt.conv.Snapshot()
	return StatusReport{
		ConversationID: snap.ID,
		Status:         snap.Status,
		ActiveAgent:    snap.ActiveAgent,
		PendingReview:  snap.PendingReview,
		TurnCount:      len(snap.Turns),
	}, nil
}

// Recover rebuilds every conversation found in the journal and resumes any
// turn that was interrupted mid-pipeline. Conversations whose logs fail
// verification are quarantined rather than dropped.
func (c *Coordinator) Recover(ctx context.Context) error {
	ids, err := c.store.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	for _, id := range ids {
		c.mu.RLock()
		_, exists := c.convs[id]
		c.mu.RUnlock()
		if exists {
			continue
		}
		entries, err := c.store.Entries(ctx, id)
		if err != nil {
			return fmt.Errorf("read log for conversation %s: %w", id, err)
		}
		st, err := replayConversation(id, entries)
		if err != nil {
			c.logger.Error("replay failed for conversation %s, quarantining: %v", id, err)
			c.registerQuarantined(id)
			continue
		}
		rt := &runtime{
			conv:    st.conv,
			writer:  journal.NewWriter(c.store, id, st.tail),
			signals: make(chan core.Signal, c.cfg.SignalQueueDepth),
			resume:  st.inFlight,
		}
		c.mu.Lock()
		c.convs[id] = rt
		if !st.conv.CurrentStatus().Terminal() {
			c.wg.Add(1)
			go c.runLoop(rt)
		}
		c.mu.Unlock()
		c.logger.Info("conversation %s recovered at seq %d (status %s)", id, st.tail, st.conv.CurrentStatus())
	}
	return nil
}

// Close stops all conversation loops and waits for them to drain. Pending
// signals that were not yet processed are dropped; the journal already holds
// everything needed to resume after a restart.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) runtime(conversationID string) (*runtime, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", core.ErrNotFound, conversationID)
	}
	return rt, nil
}

func (c *Coordinator) registerQuarantined(conversationID string) {
	conv := core.NewConversation(conversationID, "", "", c.now())
	conv.SetStatus(core.StatusQuarantined, c.now())
	rt := &runtime{conv: conv}
	rt.quarantined.Store(true)
	c.mu.Lock()
	c.convs[conversationID] = rt
	c.mu.Unlock()
}

// runLoop is the conversation mailbox: one goroutine per conversation,
// processing signals strictly in order.
func (c *Coordinator) runLoop(rt *runtime) {
	defer c.wg.Done()
	if rt.resume != nil {
		c.resumeRecovered(rt)
		rt.resume = nil
	}
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case sig := <-rt.signals:
			c.process(rt, sig)
		}
	}
}

// process handles one dequeued signal. State checks are repeated here
// because the state may have moved since Signal admitted it; a signal that
// no longer applies is logged and dropped, never an error.
func (c *Coordinator) process(rt *runtime, sig core.Signal) {
	ctx := c.baseCtx
	if rt.quarantined.Load() {
		return
	}
	if rt.cancelRequested.Load() && !rt.conv.CurrentStatus().Terminal() {
		c.doCancel(ctx, rt, rt.requestedCancelReason())
	}
	snap := rt.conv.Snapshot()

	switch sig.Kind {
	case core.SignalSendMessage:
		if snap.Status != core.StatusActive {
			c.logger.Warn("dropping send_message for conversation %s in status %s", snap.ID, snap.Status)
			return
		}
		c.runTurn(ctx, rt, sig)

	case core.SignalSwitchAgent:
		if snap.Status != core.StatusActive {
			c.logger.Warn("dropping switch_agent for conversation %s in status %s", snap.ID, snap.Status)
			return
		}
		desc, err := c.router.Authorize(sig.AgentID, snap.TenantID, sig.Security.Roles)
		if err != nil {
			c.logger.Warn("dropping switch_agent for conversation %s: %v", snap.ID, err)
			return
		}
		entry, err := rt.writer.Append(ctx, core.EntryAgentSwitched, "", "", 0, "",
			core.AgentSwitchedPayload{AgentID: desc.ID}, c.now())
		if err != nil {
			c.quarantine(rt, err)
			return
		}
		rt.conv.SetActiveAgent(desc.ID, entry.Timestamp)
		if hl, ok := c.logger.(interface{ LogHandoff(from, to string) }); ok {
			hl.LogHandoff(snap.ActiveAgent, desc.ID)
		} else {
			c.logger.Info("conversation %s handed off from %s to %s", snap.ID, snap.ActiveAgent, desc.ID)
		}

	case core.SignalApprove:
		c.resumeApproved(ctx, rt, sig, snap)

	case core.SignalReject:
		if snap.Status != core.StatusAwaitingSignal || snap.PendingReview != sig.TurnID {
			c.logger.Warn("dropping reject for conversation %s: turn %s not under review", snap.ID, sig.TurnID)
			return
		}
		entry, err := rt.writer.Append(ctx, core.EntryReviewResolved, sig.TurnID, "", 0, "",
			core.ReviewResolvedPayload{TurnID: sig.TurnID, Approved: false, Reason: sig.Reason}, c.now())
		if err != nil {
			c.quarantine(rt, err)
			return
		}
		rt.conv.SetPendingReview("", entry.Timestamp)
		rt.conv.SetStatus(core.StatusFailed, entry.Timestamp)
		c.logger.Info("conversation %s failed: turn %s rejected", snap.ID, sig.TurnID)

	case core.SignalCancel:
		if !rt.conv.CurrentStatus().Terminal() {
			c.doCancel(ctx, rt, sig.Reason)
		}
	}
}

// runTurn starts and executes one turn for a send_message signal.
func (c *Coordinator) runTurn(ctx context.Context, rt *runtime, sig core.Signal) {
	snap := rt.conv.Snapshot()
	desc, ok := c.router.Resolve(snap.ActiveAgent)
	if !ok {
		c.logger.Error("active agent %s for conversation %s is no longer registered", snap.ActiveAgent, snap.ID)
		rt.conv.SetStatus(core.StatusFailed, c.now())
		return
	}

	turnID := uuid.NewString()
	seq := rt.conv.NextSequence()
	entry, err := rt.writer.Append(ctx, core.EntryTurnStarted, turnID, "", 0, "",
		core.TurnStartedPayload{TurnID: turnID, Sequence: seq, Input: sig.Message, AgentID: desc.ID, Security: sig.Security}, c.now())
	if err != nil {
		c.quarantine(rt, err)
		return
	}
	turn := core.Turn{
		ID:        turnID,
		Sequence:  seq,
		Input:     sig.Message,
		AgentID:   desc.ID,
		Status:    core.TurnPending,
		StartedAt: entry.Timestamp,
	}
	rt.conv.AppendTurn(turn, entry.Timestamp)
	rt.conv.SetStatus(core.StatusTurnInFlight, entry.Timestamp)

	result, runErr := c.executor.Run(ctx, pipeline.Request{
		Writer:          rt.writer,
		TenantID:        snap.TenantID,
		Agent:           desc,
		Security:        sig.Security,
		Episodic:        c.episodicFor(rt.conv),
		Turn:            turn,
		CancelRequested: rt.cancelRequested.Load,
	})
	c.finishTurn(ctx, rt, result, runErr)
}

// resumeApproved re-runs a turn released from human review. The turn keeps
// its assembled context but none of the rejected reasoning attempts, so the
// revision budget starts fresh.
func (c *Coordinator) resumeApproved(ctx context.Context, rt *runtime, sig core.Signal, snap core.Conversation) {
	if snap.Status != core.StatusAwaitingSignal || snap.PendingReview != sig.TurnID {
		c.logger.Warn("dropping approve for conversation %s: turn %s not under review", snap.ID, sig.TurnID)
		return
	}
	entry, err := rt.writer.Append(ctx, core.EntryReviewResolved, sig.TurnID, "", 0, "",
		core.ReviewResolvedPayload{TurnID: sig.TurnID, Approved: true}, c.now())
	if err != nil {
		c.quarantine(rt, err)
		return
	}

	entries, err := c.store.Entries(ctx, snap.ID)
	if err != nil {
		c.quarantine(rt, fmt.Errorf("%w: read log for approve: %v", core.ErrFatal, err))
		return
	}
	var records []core.LogEntry
	for _, e := range entries {
		if e.Kind == core.EntryStepCompleted && e.TurnID == sig.TurnID && e.Step == core.StepEnrich {
			records = append(records, e)
		}
	}

	turn, ok := rt.conv.Turn(sig.TurnID)
	if !ok {
		c.quarantine(rt, fmt.Errorf("%w: approved turn %s missing", core.ErrFatal, sig.TurnID))
		return
	}
	turn.Status = core.TurnPending
	turn.Response = nil
	turn.Verdict = nil
	turn.FailureCode = ""
	turn.CompletedAt = time.Time{}
	rt.conv.UpdateTurn(turn, entry.Timestamp)
	rt.conv.SetPendingReview("", entry.Timestamp)
	rt.conv.SetStatus(core.StatusTurnInFlight, entry.Timestamp)

	desc, ok := c.router.Resolve(turn.AgentID)
	if !ok {
		c.logger.Error("agent %s for approved turn %s is no longer registered", turn.AgentID, turn.ID)
		rt.conv.SetStatus(core.StatusFailed, c.now())
		return
	}
	result, runErr := c.executor.Run(ctx, pipeline.Request{
		Writer:          rt.writer,
		TenantID:        snap.TenantID,
		Agent:           desc,
		Security:        sig.Security,
		Episodic:        c.episodicFor(rt.conv),
		Turn:            turn,
		Records:         records,
		CancelRequested: rt.cancelRequested.Load,
	})
	c.finishTurn(ctx, rt, result, runErr)
}

// resumeRecovered finishes a turn that a crash interrupted mid-pipeline,
// picking up at the first step without a journal record.
func (c *Coordinator) resumeRecovered(rt *runtime) {
	f := rt.resume
	snap := rt.conv.Snapshot()
	desc, ok := c.router.Resolve(f.turn.AgentID)
	if !ok {
		c.logger.Error("agent %s for recovered turn %s is no longer registered", f.turn.AgentID, f.turn.ID)
		rt.conv.SetStatus(core.StatusFailed, c.now())
		return
	}
	c.logger.Info("resuming turn %s of conversation %s with %d recorded steps", f.turn.ID, snap.ID, len(f.records))
	result, runErr := c.executor.Run(c.baseCtx, pipeline.Request{
		Writer:          rt.writer,
		TenantID:        snap.TenantID,
		Agent:           desc,
		Security:        f.security,
		Episodic:        c.episodicFor(rt.conv),
		Turn:            f.turn,
		Records:         f.records,
		CancelRequested: rt.cancelRequested.Load,
	})
	c.finishTurn(c.baseCtx, rt, result, runErr)
}

// finishTurn commits a terminal turn to the conversation and transitions the
// conversation according to the pipeline outcome.
func (c *Coordinator) finishTurn(ctx context.Context, rt *runtime, turn core.Turn, runErr error) {
	ts := turn.CompletedAt
	if ts.IsZero() {
		ts = c.now()
	}
	rt.conv.UpdateTurn(turn, ts)

	switch {
	case runErr == nil:
		rt.conv.SetStatus(core.StatusActive, ts)
		c.logger.Info("turn %s of conversation %s done", turn.ID, rt.writer.ConversationID())

	case errors.Is(runErr, core.ErrValidationExhausted):
		entry, err := rt.writer.Append(ctx, core.EntryReviewRequested, turn.ID, "", 0, "",
			core.ReviewRequestedPayload{TurnID: turn.ID}, c.now())
		if err != nil {
			c.quarantine(rt, err)
			return
		}
		rt.conv.SetPendingReview(turn.ID, entry.Timestamp)
		rt.conv.SetStatus(core.StatusAwaitingSignal, entry.Timestamp)
		c.logger.Warn("turn %s of conversation %s exhausted validation, awaiting review", turn.ID, rt.writer.ConversationID())

	case errors.Is(runErr, pipeline.ErrCancelled):
		entry, err := rt.writer.Append(ctx, core.EntryCancelled, "", "", 0, "",
			core.CancelledPayload{Reason: rt.requestedCancelReason()}, c.now())
		if err != nil {
			c.quarantine(rt, err)
			return
		}
		rt.conv.SetStatus(core.StatusCompleted, entry.Timestamp)
		c.logger.Info("conversation %s cancelled during turn %s", rt.writer.ConversationID(), turn.ID)

	case errors.Is(runErr, core.ErrFatal):
		c.quarantine(rt, runErr)

	default:
		rt.conv.SetStatus(core.StatusFailed, ts)
		c.logger.Error("turn %s of conversation %s failed: %v", turn.ID, rt.writer.ConversationID(), runErr)
	}
}

// doCancel journals and applies cancellation between turns. Mid-turn
// cancellation goes through the pipeline's step-boundary poll instead.
func (c *Coordinator) doCancel(ctx context.Context, rt *runtime, reason string) {
	entry, err := rt.writer.Append(ctx, core.EntryCancelled, "", "", 0, "", core.CancelledPayload{Reason: reason}, c.now())
	if err != nil {
		c.quarantine(rt, err)
		return
	}
	rt.conv.SetPendingReview("", entry.Timestamp)
	rt.conv.SetStatus(core.StatusCompleted, entry.Timestamp)
	c.logger.Info("conversation %s cancelled", rt.writer.ConversationID())
}

// quarantine halts a conversation after a journal or replay failure. The log
// is left untouched for offline inspection; no further signals are accepted.
func (c *Coordinator) quarantine(rt *runtime, err error) {
	rt.quarantined.Store(true)
	rt.conv.SetStatus(core.StatusQuarantined, c.now())
	if ql, ok := c.logger.(interface{ LogQuarantine(err error) }); ok {
		ql.LogQuarantine(err)
	} else {
		c.logger.Error("conversation %s quarantined: %v", rt.conv.ID, err)
	}
}

// episodicFor builds the episodic layer from the conversation's completed
// turns, folding everything beyond the recent window into the rolling
// summary.
func (c *Coordinator) episodicFor(conv *core.Conversation) core.EpisodicState {
	snap := conv.Snapshot()
	epi := core.EpisodicState{ConversationID: snap.ID, UpdatedAt: snap.Updated}
	for _, t := range snap.Turns {
		if t.Status != core.TurnDone {
			continue
		}
		epi.Recent = append(epi.Recent, core.Exchange{
			TurnID:   t.ID,
			Input:    t.Input,
			Response: t.ResponseText(),
			AgentID:  t.AgentID,
		})
	}
	return assembler.FoldWindow(epi, c.cfg.MaxRecentTurns)
}
