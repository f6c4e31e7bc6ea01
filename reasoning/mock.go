package reasoning

import (
	"context"
	"fmt"
	"sync"

	"github.com/zimaxnet/engram/core"
)

// MockGateway is a deterministic in-memory ReasoningGateway for tests and
// examples. Canned responses are keyed by turn input; unmatched inputs get a
// generated echo reply. Errors can be scripted per call.
type MockGateway struct {
	mu        sync.Mutex
	responses map[string]core.ReasoningResponse
	errs      []error
	calls     int
}

// NewMockGateway constructs an empty mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{responses: make(map[string]core.ReasoningResponse)}
}

// AddResponse registers a canned response for an input.
func (m *MockGateway) AddResponse(input string, resp core.ReasoningResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = resp
}

// FailWith queues errors returned by the next Generate calls, in order,
// before canned responses resume.
func (m *MockGateway) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Calls reports how many times Generate was invoked.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements core.ReasoningGateway.
func (m *MockGateway) Generate(ctx context.Context, rc core.Context) (core.ReasoningResponse, error) {
	if err := ctx.Err(); err != nil {
		return core.ReasoningResponse{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return core.ReasoningResponse{}, err
	}
	if resp, ok := m.responses[rc.Input]; ok {
		return resp, nil
	}
	return core.ReasoningResponse{
		Text:       fmt.Sprintf("Mock response to: %s", rc.Input),
		Confidence: 1.0,
	}, nil
}
