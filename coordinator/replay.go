package coordinator

import (
	"fmt"
	"time"

	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/pipeline"
)

// replayState is the outcome of folding one conversation's journal. When the
// log ends mid-turn, inFlight carries everything needed to resume the
// pipeline at the first unrecorded step.
type replayState struct {
	conv     *core.Conversation
	tail     int64
	inFlight *inFlightTurn
}

// inFlightTurn is a turn the log opened but never completed, together with
// the step entries already checkpointed for it.
type inFlightTurn struct {
	turn     core.Turn
	security core.SecurityContext
	records  []core.LogEntry
}

// replayConversation folds a conversation's log entries, in sequence order,
// back into its state. No external service is invoked; completed turns are
// reconstructed purely from their recorded step outputs. An approved review
// reopens the turn with only its enrich record, matching the fresh budget the
// live approve path grants.
func replayConversation(conversationID string, entries []core.LogEntry) (*replayState, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: conversation %s has no log entries", core.ErrFatal, conversationID)
	}
	if entries[0].Kind != core.EntryConversationStarted {
		return nil, fmt.Errorf("%w: conversation %s log does not open with %s", core.ErrFatal, conversationID, core.EntryConversationStarted)
	}

	var started core.ConversationStartedPayload
	if err := core.DecodePayload(entries[0], &started); err != nil {
		return nil, err
	}
	conv := core.NewConversation(conversationID, started.TenantID, started.AgentID, entries[0].Timestamp)

	st := &replayState{conv: conv, tail: entries[0].Seq}
	recordsByTurn := make(map[string][]core.LogEntry)
	securityByTurn := make(map[string]core.SecurityContext)

	for _, e := range entries[1:] {
		st.tail = e.Seq
		switch e.Kind {
		case core.EntryTurnStarted:
			var p core.TurnStartedPayload
			if err := core.DecodePayload(e, &p); err != nil {
				return nil, err
			}
			turn := core.Turn{
				ID:        p.TurnID,
				Sequence:  p.Sequence,
				Input:     p.Input,
				AgentID:   p.AgentID,
				Status:    core.TurnPending,
				StartedAt: e.Timestamp,
			}
			conv.AppendTurn(turn, e.Timestamp)
			conv.SetStatus(core.StatusTurnInFlight, e.Timestamp)
			securityByTurn[p.TurnID] = p.Security
			st.inFlight = &inFlightTurn{turn: turn, security: p.Security}

		case core.EntryStepCompleted:
			recordsByTurn[e.TurnID] = append(recordsByTurn[e.TurnID], e)
			if st.inFlight != nil && st.inFlight.turn.ID == e.TurnID {
				st.inFlight.records = append(st.inFlight.records, e)
			}

		case core.EntryTurnCompleted:
			var p core.TurnCompletedPayload
			if err := core.DecodePayload(e, &p); err != nil {
				return nil, err
			}
			turn, ok := conv.Turn(p.TurnID)
			if !ok {
				return nil, fmt.Errorf("%w: completion for unknown turn %s at seq %d", core.ErrFatal, p.TurnID, e.Seq)
			}
			rebuilt, err := pipeline.Rebuild(turn, conv.TenantID, recordsByTurn[p.TurnID])
			if err != nil {
				return nil, err
			}
			rebuilt.Status = p.Status
			rebuilt.FailureCode = p.FailureCode
			rebuilt.CompletedAt = e.Timestamp
			conv.UpdateTurn(rebuilt, e.Timestamp)
			// The conversation transition is derived from the failure code
			// because the coordinator's follow-up record (review_requested,
			// cancelled) may be missing when the crash landed between the
			// two appends. When it is present it folds to the same state.
			switch {
			case p.Status == core.TurnDone:
				conv.SetStatus(core.StatusActive, e.Timestamp)
			case p.FailureCode == "validation_exhausted":
				conv.SetPendingReview(p.TurnID, e.Timestamp)
				conv.SetStatus(core.StatusAwaitingSignal, e.Timestamp)
			case p.FailureCode == "cancelled":
				conv.SetPendingReview("", e.Timestamp)
				conv.SetStatus(core.StatusCompleted, e.Timestamp)
			default:
				conv.SetStatus(core.StatusFailed, e.Timestamp)
			}
			st.inFlight = nil

		case core.EntryAgentSwitched:
			var p core.AgentSwitchedPayload
			if err := core.DecodePayload(e, &p); err != nil {
				return nil, err
			}
			conv.SetActiveAgent(p.AgentID, e.Timestamp)
			conv.SetStatus(core.StatusActive, e.Timestamp)

		case core.EntryReviewRequested:
			var p core.ReviewRequestedPayload
			if err := core.DecodePayload(e, &p); err != nil {
				return nil, err
			}
			conv.SetPendingReview(p.TurnID, e.Timestamp)
			conv.SetStatus(core.StatusAwaitingSignal, e.Timestamp)

		case core.EntryReviewResolved:
			var p core.ReviewResolvedPayload
			if err := core.DecodePayload(e, &p); err != nil {
				return nil, err
			}
			conv.SetPendingReview("", e.Timestamp)
			if p.Approved {
				// The approved turn re-enters the pipeline keeping its
				// assembled context but none of the rejected attempts.
				turn, ok := conv.Turn(p.TurnID)
				if !ok {
					return nil, fmt.Errorf("%w: approval for unknown turn %s at seq %d", core.ErrFatal, p.TurnID, e.Seq)
				}
				turn.Status = core.TurnPending
				turn.Response = nil
				turn.Verdict = nil
				turn.FailureCode = ""
				turn.CompletedAt = time.Time{}
				enrichOnly := filterStep(recordsByTurn[p.TurnID], core.StepEnrich)
				recordsByTurn[p.TurnID] = enrichOnly
				conv.UpdateTurn(turn, e.Timestamp)
				conv.SetStatus(core.StatusTurnInFlight, e.Timestamp)
				st.inFlight = &inFlightTurn{turn: turn, security: securityByTurn[p.TurnID], records: enrichOnly}
			} else {
				conv.SetStatus(core.StatusFailed, e.Timestamp)
			}

		case core.EntryCancelled:
			conv.SetStatus(core.StatusCompleted, e.Timestamp)
			st.inFlight = nil

		default:
			return nil, fmt.Errorf("%w: unknown entry kind %q at seq %d", core.ErrFatal, e.Kind, e.Seq)
		}
	}
	return st, nil
}

// filterStep keeps only the step entries of the given step.
func filterStep(records []core.LogEntry, step core.Step) []core.LogEntry {
	var out []core.LogEntry
	for _, r := range records {
		if r.Kind == core.EntryStepCompleted && r.Step == step {
			out = append(out, r)
		}
	}
	return out
}
