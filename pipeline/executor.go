// Package pipeline runs one conversation turn as the fixed ordered sequence
// of durable steps: enrich → reason → validate → persist. Every step outcome
// is appended to the journal before the pipeline advances, so a crash
// mid-turn resumes at the first step without a record instead of restarting
// from enrich. A failed validation routes back to reason with an augmented
// context up to a bounded number of re-attempts.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zimaxnet/engram/assembler"
	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/journal"
	"github.com/zimaxnet/engram/logging"
)

// ErrCancelled marks a turn abandoned by a cancel signal. The turn is
// committed as Failed, never left Pending.
var ErrCancelled = errors.New("turn cancelled")

// Config tunes the step retry policies.
type Config struct {
	// MaxRecentTurns bounds the episodic window assembled at enrich.
	MaxRecentTurns int
	// EnrichMaxAttempts bounds memory retrieval retries (exponential backoff).
	EnrichMaxAttempts int
	// PersistMaxAttempts bounds memory append retries (exponential backoff).
	PersistMaxAttempts int
	// ReasonMaxAttempts bounds reasoning timeout retries. Kept smaller than
	// the memory bounds; timeouts retry immediately, without backoff.
	ReasonMaxAttempts int
	// ValidationRetryLimit bounds reason re-attempts triggered by failed
	// validation before the turn fails and human review is requested.
	ValidationRetryLimit int
	// ReasoningTimeout is the per-attempt reasoning deadline.
	ReasoningTimeout time.Duration
	// RetryInitialInterval seeds the exponential backoff.
	RetryInitialInterval time.Duration
}

// DefaultConfig provides conservative defaults matching the documented step
// policy: memory steps retry more generously than reasoning.
var DefaultConfig = Config{
	MaxRecentTurns:       8,
	EnrichMaxAttempts:    4,
	PersistMaxAttempts:   4,
	ReasonMaxAttempts:    2,
	ValidationRetryLimit: 3,
	ReasoningTimeout:     30 * time.Second,
	RetryInitialInterval: 100 * time.Millisecond,
}

// Options configures an Executor.
type Options struct {
	Config    Config
	Validator *Validator
	Logger    logging.Logger
	// Clock supplies timestamps recorded in the journal. Overridable so
	// tests get stable times.
	Clock func() time.Time
}

// Executor drives the turn pipeline against the collaborator gateways.
type Executor struct {
	memory    core.MemoryGateway
	reasoning core.ReasoningGateway
	validator *Validator
	logger    logging.Logger
	cfg       Config
	now       func() time.Time
}

// NewExecutor creates an Executor with optional overrides.
func NewExecutor(mem core.MemoryGateway, rg core.ReasoningGateway, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Config:    DefaultConfig,
		Validator: NewValidator(),
		Logger:    logging.NoOpLogger{},
		Clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{
		memory:    mem,
		reasoning: rg,
		validator: opts.Validator,
		logger:    opts.Logger,
		cfg:       opts.Config,
		now:       opts.Clock,
	}
}

// Request carries everything one turn execution needs. Records holds this
// turn's previously checkpointed step entries (in sequence order) when
// resuming after a crash or an approve; empty for a fresh turn.
type Request struct {
	Writer   *journal.Writer
	TenantID string
	Agent    core.AgentDescriptor
	Security core.SecurityContext
	Episodic core.EpisodicState
	Turn     core.Turn
	Records  []core.LogEntry
	// CancelRequested is polled at step boundaries. A checkpointed step is
	// never undone; an unstarted one is never begun once this returns true.
	CancelRequested func() bool
}

// enrichInput is the fingerprinted input of the enrich step.
type enrichInput struct {
	TurnID   string `json:"turn_id"`
	Input    string `json:"input"`
	AgentID  string `json:"agent_id"`
	TenantID string `json:"tenant_id"`
}

// persistInput is the fingerprinted input of the persist step.
type persistInput struct {
	TurnID     string      `json:"turn_id"`
	Facts      []core.Fact `json:"facts"`
	Transcript string      `json:"transcript"`
}

// runState is the working state folded out of recorded step entries and
// advanced by live execution.
type runState struct {
	ctx           *core.Context
	workCtx       core.Context // context for the next reason attempt (with corrections)
	resp          *core.ReasoningResponse
	lastResp      *core.ReasoningResponse // survives the reset after a failed validation
	verdict       *core.Verdict
	reasonCount   int
	validateCount int
	factRefs      []string
	persisted     bool
}

// Run executes (or resumes) the pipeline for one turn. The returned turn is
// terminal. The error classifies the outcome for the coordinator:
//   - nil: turn Done
//   - core.ErrValidationExhausted: turn Failed, human review required
//   - ErrCancelled: turn Failed due to cancellation
//   - core.ErrFatal (wrapped): journal append failure or replay mismatch
//   - anything else: turn Failed, conversation should fail
func (e *Executor) Run(ctx context.Context, req Request) (core.Turn, error) {
	turn := req.Turn
	cancelled := req.CancelRequested
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	st := &runState{}
	if err := foldRecords(st, req.Turn, req.TenantID, req.Records); err != nil {
		turn.Status = core.TurnFailed
		turn.FailureCode = "replay_mismatch"
		return turn, err
	}

	// enrich
	if st.ctx == nil {
		if cancelled() {
			return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, "cancelled", ErrCancelled)
		}
		turn.Status = core.TurnEnriching
		started := time.Now()
		know, err := e.retrieveWithRetry(ctx, req.TenantID, turn.Input)
		if err != nil {
			e.logger.Warn("enrich exhausted for turn %s: %v", turn.ID, err)
			return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, "memory_unavailable", err)
		}
		op := core.OperationalState{
			ConversationID: req.Writer.ConversationID(),
			TurnID:         turn.ID,
			Status:         core.StatusTurnInFlight,
			ActiveAgent:    turn.AgentID,
			ActiveTools:    append([]string(nil), req.Agent.Capabilities...),
		}
		rc := assembler.Assemble(req.Security, req.Episodic, know, op, turn.Input, e.cfg.MaxRecentTurns)
		fp := core.Fingerprint(enrichInput{TurnID: turn.ID, Input: turn.Input, AgentID: turn.AgentID, TenantID: req.TenantID})
		if _, err := req.Writer.Append(ctx, core.EntryStepCompleted, turn.ID, core.StepEnrich, 1, fp,
			core.StepCompletedPayload{TurnID: turn.ID, Step: core.StepEnrich, Attempt: 1, Output: mustJSON(rc)}, e.now()); err != nil {
			return turn, err
		}
		e.logStep(core.StepEnrich, 1, started)
		st.ctx = &rc
		st.workCtx = rc
	}
	turn.Context = st.ctx

	// reason / validate loop
	for {
		if st.verdict != nil && st.verdict.Passed {
			break
		}
		if st.verdict != nil && !st.verdict.Passed && st.validateCount >= e.cfg.ValidationRetryLimit {
			// lastResp survives the fold's reset after a failed validate, so
			// a resumed exhaustion keeps the rejected response for review.
			turn.Response = st.lastResp
			turn.Verdict = st.verdict
			return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, "validation_exhausted", core.ErrValidationExhausted)
		}

		if st.resp == nil {
			if cancelled() {
				return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, "cancelled", ErrCancelled)
			}
			turn.Status = core.TurnReasoning
			started := time.Now()
			resp, err := e.reasonWithRetry(ctx, st.workCtx)
			if err != nil {
				code := "reasoning_failed"
				if errors.Is(err, core.ErrReasoningTimeout) {
					code = "reasoning_timeout"
				} else if errors.Is(err, core.ErrReasoningRejected) {
					code = "reasoning_rejected"
				}
				return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, code, err)
			}
			st.reasonCount++
			if _, err := req.Writer.Append(ctx, core.EntryStepCompleted, turn.ID, core.StepReason, st.reasonCount, core.Fingerprint(st.workCtx),
				core.StepCompletedPayload{TurnID: turn.ID, Step: core.StepReason, Attempt: st.reasonCount, Output: mustJSON(resp)}, e.now()); err != nil {
				return turn, err
			}
			e.logStep(core.StepReason, st.reasonCount, started)
			st.resp = &resp
			st.lastResp = &resp
		}
		turn.Response = st.resp

		if st.validateCount < st.reasonCount {
			turn.Status = core.TurnValidating
			started := time.Now()
			verdict := e.validator.Validate(st.workCtx, *st.resp, req.Agent)
			st.validateCount++
			if _, err := req.Writer.Append(ctx, core.EntryStepCompleted, turn.ID, core.StepValidate, st.validateCount, core.Fingerprint(*st.resp),
				core.StepCompletedPayload{TurnID: turn.ID, Step: core.StepValidate, Attempt: st.validateCount, Output: mustJSON(verdict)}, e.now()); err != nil {
				return turn, err
			}
			e.logStep(core.StepValidate, st.validateCount, started)
			st.verdict = &verdict
		}
		turn.Verdict = st.verdict

		if !st.verdict.Passed && st.validateCount < e.cfg.ValidationRetryLimit {
			e.logger.Debug("validation failed for turn %s (attempt %d), routing back to reason", turn.ID, st.validateCount)
			for _, f := range st.verdict.Findings {
				st.workCtx = st.workCtx.WithCorrection(f)
			}
			st.resp = nil
		}
	}
	turn.Response = st.resp
	turn.Verdict = st.verdict

	// persist
	if !st.persisted {
		if cancelled() {
			return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, "cancelled", ErrCancelled)
		}
		turn.Status = core.TurnPersisting
		started := time.Now()
		facts := extractFacts(turn.ID, *st.resp)
		transcript := fmt.Sprintf("user: %s\n%s: %s", turn.Input, turn.AgentID, st.resp.Text)
		refs, err := e.persistWithRetry(ctx, req.Writer.ConversationID(), turn.ID, facts, transcript)
		if err != nil {
			e.logger.Warn("persist exhausted for turn %s: %v", turn.ID, err)
			return e.completeTurn(ctx, req.Writer, turn, core.TurnFailed, "memory_unavailable", err)
		}
		fp := core.Fingerprint(persistInput{TurnID: turn.ID, Facts: facts, Transcript: transcript})
		if _, err := req.Writer.Append(ctx, core.EntryStepCompleted, turn.ID, core.StepPersist, 1, fp,
			core.StepCompletedPayload{TurnID: turn.ID, Step: core.StepPersist, Attempt: 1, Output: mustJSON(refs)}, e.now()); err != nil {
			return turn, err
		}
		e.logStep(core.StepPersist, 1, started)
		st.factRefs = refs
	}
	turn.FactRefs = st.factRefs

	return e.completeTurn(ctx, req.Writer, turn, core.TurnDone, "", nil)
}

// foldRecords folds previously recorded step entries into the run state,
// verifying each record's input fingerprint against the reconstructed input.
// A mismatch means the log and the deterministic re-execution diverged,
// which is fatal.
func foldRecords(st *runState, turn core.Turn, tenantID string, records []core.LogEntry) error {
	for _, rec := range records {
		if rec.Kind != core.EntryStepCompleted || rec.TurnID != turn.ID {
			continue
		}
		var payload core.StepCompletedPayload
		if err := core.DecodePayload(rec, &payload); err != nil {
			return err
		}
		switch rec.Step {
		case core.StepEnrich:
			fp := core.Fingerprint(enrichInput{TurnID: turn.ID, Input: turn.Input, AgentID: turn.AgentID, TenantID: tenantID})
			if rec.Fingerprint != fp {
				return fmt.Errorf("%w: enrich fingerprint mismatch at seq %d", core.ErrFatal, rec.Seq)
			}
			var rc core.Context
			if err := decodeJSON(payload.Output, &rc); err != nil {
				return err
			}
			st.ctx = &rc
			st.workCtx = rc
		case core.StepReason:
			if rec.Fingerprint != core.Fingerprint(st.workCtx) {
				return fmt.Errorf("%w: reason fingerprint mismatch at seq %d", core.ErrFatal, rec.Seq)
			}
			var resp core.ReasoningResponse
			if err := decodeJSON(payload.Output, &resp); err != nil {
				return err
			}
			st.resp = &resp
			st.lastResp = &resp
			st.reasonCount = payload.Attempt
			st.verdict = nil
		case core.StepValidate:
			if st.resp == nil {
				return fmt.Errorf("%w: validate record without reason at seq %d", core.ErrFatal, rec.Seq)
			}
			if rec.Fingerprint != core.Fingerprint(*st.resp) {
				return fmt.Errorf("%w: validate fingerprint mismatch at seq %d", core.ErrFatal, rec.Seq)
			}
			var verdict core.Verdict
			if err := decodeJSON(payload.Output, &verdict); err != nil {
				return err
			}
			st.verdict = &verdict
			st.validateCount = payload.Attempt
			if !verdict.Passed {
				for _, f := range verdict.Findings {
					st.workCtx = st.workCtx.WithCorrection(f)
				}
				st.resp = nil
			}
		case core.StepPersist:
			var refs []string
			if err := decodeJSON(payload.Output, &refs); err != nil {
				return err
			}
			st.factRefs = refs
			st.persisted = true
		}
	}
	return nil
}

// Rebuild folds a turn's recorded step entries back into the turn without
// re-invoking any external service. Replay uses it to reconstruct completed
// turns for history queries.
func Rebuild(turn core.Turn, tenantID string, records []core.LogEntry) (core.Turn, error) {
	st := &runState{}
	if err := foldRecords(st, turn, tenantID, records); err != nil {
		return turn, err
	}
	if st.ctx != nil {
		turn.Context = st.ctx
	}
	if st.lastResp != nil {
		turn.Response = st.lastResp
	}
	if st.verdict != nil {
		turn.Verdict = st.verdict
	}
	turn.FactRefs = st.factRefs
	return turn, nil
}

// logStep reports a checkpointed step attempt, preferring the structured
// helper when the configured logger provides one.
func (e *Executor) logStep(step core.Step, attempt int, started time.Time) {
	if sl, ok := e.logger.(interface {
		LogStep(step string, attempt int, dur time.Duration, err error)
	}); ok {
		sl.LogStep(string(step), attempt, time.Since(started), nil)
		return
	}
	e.logger.Debug("step %s attempt %d completed in %s", step, attempt, time.Since(started))
}

// completeTurn appends the terminal record and stamps the turn with the
// journal timestamp so replay reproduces it exactly.
func (e *Executor) completeTurn(ctx context.Context, w *journal.Writer, turn core.Turn, status core.TurnStatus, code string, cause error) (core.Turn, error) {
	turn.Status = status
	turn.FailureCode = code
	entry, err := w.Append(ctx, core.EntryTurnCompleted, turn.ID, "", 0, "",
		core.TurnCompletedPayload{TurnID: turn.ID, Status: status, FailureCode: code}, e.now())
	if err != nil {
		return turn, err
	}
	turn.CompletedAt = entry.Timestamp
	return turn, cause
}

// retrieveWithRetry retries transient memory failures with exponential
// backoff up to the configured bound. Non-transient errors abort immediately.
func (e *Executor) retrieveWithRetry(ctx context.Context, tenantID, query string) (core.SemanticKnowledge, error) {
	var know core.SemanticKnowledge
	op := func() error {
		k, err := e.memory.Retrieve(ctx, tenantID, query)
		if err != nil {
			if errors.Is(err, core.ErrMemoryUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		know = k
		return nil
	}
	if err := backoff.Retry(op, e.policy(ctx, e.cfg.EnrichMaxAttempts)); err != nil {
		return core.SemanticKnowledge{}, err
	}
	return know, nil
}

// persistWithRetry mirrors retrieveWithRetry for the append path. Safe to
// retry because MemoryGateway.Append is idempotent on (conversation, turn).
func (e *Executor) persistWithRetry(ctx context.Context, conversationID, turnID string, facts []core.Fact, transcript string) ([]string, error) {
	var refs []string
	op := func() error {
		r, err := e.memory.Append(ctx, conversationID, turnID, facts, transcript)
		if err != nil {
			if errors.Is(err, core.ErrMemoryUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		refs = r
		return nil
	}
	if err := backoff.Retry(op, e.policy(ctx, e.cfg.PersistMaxAttempts)); err != nil {
		return nil, err
	}
	return refs, nil
}

// reasonWithRetry retries only timeouts, immediately and up to the smaller
// reason bound. Rejections and other errors are returned as-is.
func (e *Executor) reasonWithRetry(ctx context.Context, rc core.Context) (core.ReasoningResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.ReasonMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ReasoningTimeout)
		resp, err := e.reasoning.Generate(callCtx, rc)
		cancel()
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: attempt %d: %v", core.ErrReasoningTimeout, attempt, err)
		}
		if !errors.Is(err, core.ErrReasoningTimeout) {
			return core.ReasoningResponse{}, err
		}
		lastErr = err
		e.logger.Debug("reasoning attempt %d timed out", attempt)
	}
	return core.ReasoningResponse{}, lastErr
}

func (e *Executor) policy(ctx context.Context, maxAttempts int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialInterval
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func decodeJSON(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode step output: %v", core.ErrFatal, err)
	}
	return nil
}

// extractFacts derives the facts persisted for a completed turn. The
// response text is stored as a single fact carrying the reasoning
// confidence; tool calls are recorded as low-confidence observations.
func extractFacts(turnID string, resp core.ReasoningResponse) []core.Fact {
	facts := []core.Fact{{
		ID:         turnID + "/response",
		Content:    resp.Text,
		Confidence: resp.Confidence,
	}}
	for _, tc := range resp.ToolCalls {
		facts = append(facts, core.Fact{
			ID:         turnID + "/tool/" + tc.Name,
			Content:    fmt.Sprintf("requested tool %s(%s)", tc.Name, tc.Arguments),
			Confidence: 0.5,
		})
	}
	return facts
}
