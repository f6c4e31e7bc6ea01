// Package engram provides a high-level façade over the conversation
// coordinator and its collaborator services (journal, memory, reasoning,
// agent routing). Most applications interact with this package by:
//  1. Creating an Engram via New() (optionally overriding the default
//     in-memory services)
//  2. Registering one or more agent descriptors
//  3. Starting conversations and driving them with signals
//
// The façade delegates orchestration to coordinator.Coordinator while
// keeping setup concise. All defaults are safe for local development and
// testing; production deployments typically supply the SQLite journal, real
// reasoning gateways and a structured logger.
package engram

import (
	"context"
	"fmt"
	"time"

	"github.com/zimaxnet/engram/config"
	"github.com/zimaxnet/engram/coordinator"
	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/journal"
	"github.com/zimaxnet/engram/logging"
	"github.com/zimaxnet/engram/memory"
	"github.com/zimaxnet/engram/pipeline"
	"github.com/zimaxnet/engram/reasoning"
	"github.com/zimaxnet/engram/router"
	"github.com/zimaxnet/engram/security"
)

// Options configures the Engram instance.
type Options struct {
	// Config tunes retry bounds, timeouts and queue depths.
	Config config.Config

	// Services (default to in-memory implementations if not provided)
	Journal   journal.Store
	Memory    core.MemoryGateway
	Reasoning core.ReasoningGateway
	Tokens    core.TokenSupplier

	// Validator applies policy checks to reasoning output.
	Validator *pipeline.Validator

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Clock supplies journal timestamps; override in tests.
	Clock func() time.Time
}

// Engram is the high-level façade aggregating the coordinator and its
// services.
type Engram struct {
	opts        Options
	router      *router.Router
	coordinator *coordinator.Coordinator
}

// New creates a new Engram instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Engram {
	opts := Options{
		Config:    config.Default(),
		Journal:   journal.NewInMemoryStore(),
		Memory:    memory.NewInMemoryGateway(),
		Reasoning: reasoning.NewMockGateway(),
		Tokens:    security.NewStaticSupplier(),
		Validator: pipeline.NewValidator(),
		Logger:    logging.NoOpLogger{},
		Clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	rt := router.New()
	coord := coordinator.New(opts.Journal, opts.Memory, opts.Reasoning, rt, func(o *coordinator.Options) {
		o.Config = opts.Config
		o.Validator = opts.Validator
		o.Logger = opts.Logger
		o.Clock = opts.Clock
	})
	return &Engram{opts: opts, router: rt, coordinator: coord}
}

// RegisterAgent adds an agent descriptor to the router.
func (e *Engram) RegisterAgent(a core.AgentDescriptor) { e.router.Register(a) }

// Authenticate resolves a session token into the security context carried by
// subsequent signals.
func (e *Engram) Authenticate(ctx context.Context, token string) (core.SecurityContext, error) {
	return e.opts.Tokens.Resolve(ctx, token)
}

// Start creates a conversation handled initially by the named agent.
func (e *Engram) Start(ctx context.Context, conversationID string, sec core.SecurityContext, agentID string) error {
	if err := e.coordinator.Start(ctx, conversationID, sec, agentID); err != nil {
		return err
	}
	// Gateways that scope facts per tenant learn the association here.
	if b, ok := e.opts.Memory.(interface {
		BindTenant(conversationID, tenantID string)
	}); ok {
		b.BindTenant(conversationID, sec.TenantID)
	}
	return nil
}

// Signal delivers a signal to a conversation. Accepted signals are processed
// asynchronously in arrival order.
func (e *Engram) Signal(ctx context.Context, conversationID string, sig core.Signal) error {
	return e.coordinator.Signal(ctx, conversationID, sig)
}

// SendMessageSync sends a message and blocks until the resulting turn
// reaches a terminal status, returning it. The context bounds the wait.
func (e *Engram) SendMessageSync(ctx context.Context, conversationID string, sec core.SecurityContext, message string) (core.Turn, error) {
	before, err := e.coordinator.GetTurnCount(conversationID)
	if err != nil {
		return core.Turn{}, err
	}
	if err := e.coordinator.Signal(ctx, conversationID, core.SendMessage(sec, message)); err != nil {
		return core.Turn{}, err
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return core.Turn{}, ctx.Err()
		case <-ticker.C:
		}
		turns, err := e.coordinator.GetHistory(conversationID)
		if err != nil {
			return core.Turn{}, err
		}
		if len(turns) <= before {
			continue
		}
		last := turns[len(turns)-1]
		if !last.Status.Terminal() {
			continue
		}
		if last.Status == core.TurnFailed {
			return last, fmt.Errorf("turn %s failed: %s", last.ID, last.FailureCode)
		}
		return last, nil
	}
}

// GetHistory returns copies of all turns of the conversation in order.
func (e *Engram) GetHistory(conversationID string) ([]core.Turn, error) {
	return e.coordinator.GetHistory(conversationID)
}

// GetTurnCount returns the number of turns created so far.
func (e *Engram) GetTurnCount(conversationID string) (int, error) {
	return e.coordinator.GetTurnCount(conversationID)
}

// GetStatus returns the conversation's lifecycle state.
func (e *Engram) GetStatus(conversationID string) (coordinator.StatusReport, error) {
	return e.coordinator.GetStatus(conversationID)
}

// Recover rebuilds all conversations from the journal and resumes any turn
// interrupted mid-pipeline. Call it once at startup when using a durable
// journal.
func (e *Engram) Recover(ctx context.Context) error {
	return e.coordinator.Recover(ctx)
}

// Close stops all conversation loops and waits for them to drain.
func (e *Engram) Close() { e.coordinator.Close() }
