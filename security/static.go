// Package security resolves session tokens into security contexts. The core
// treats authentication as an external collaborator; StaticSupplier is the
// in-process implementation used by tests, demos and single-tenant setups.
package security

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zimaxnet/engram/core"
)

// StaticSupplier maps pre-registered tokens to identities. Unknown or
// revoked tokens fail with ErrUnauthorized. Safe for concurrent use.
type StaticSupplier struct {
	mu       sync.RWMutex
	sessions map[string]core.SecurityContext
}

// NewStaticSupplier constructs an empty supplier.
func NewStaticSupplier() *StaticSupplier {
	return &StaticSupplier{sessions: make(map[string]core.SecurityContext)}
}

// Issue registers an identity and returns its session token. A fresh session
// id is assigned if the context carries none.
func (s *StaticSupplier) Issue(sec core.SecurityContext) string {
	if sec.SessionID == "" {
		sec.SessionID = uuid.NewString()
	}
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = sec
	return token
}

// Revoke invalidates a token. Revoking an unknown token is a no-op.
func (s *StaticSupplier) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Resolve implements core.TokenSupplier.
func (s *StaticSupplier) Resolve(_ context.Context, token string) (core.SecurityContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sessions[token]
	if !ok {
		return core.SecurityContext{}, fmt.Errorf("%w: unknown session token", core.ErrUnauthorized)
	}
	return sec.Clone(), nil
}
