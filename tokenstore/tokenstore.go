// Package tokenstore provides auth.TokenStore implementations.
//
// Every store keeps a single value under auth.TokenKey. Memory is process-local,
// File mirrors browser local storage as a small JSON document, and Redis lets
// several companion processes share one session.
package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	auth "github.com/shreegurucool/auth-go"
)

// Memory is an in-process token store.
type Memory struct {
	mu    sync.RWMutex
	token string
}

// compile-time check
var _ auth.TokenStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Get returns the stored token.
func (m *Memory) Get(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

// Set stores the token.
func (m *Memory) Set(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

// Clear removes the token.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return nil
}

// Expired reports whether token is a JWT whose exp claim is not after now.
// The signature is not checked: the client only decides whether propagating
// the token is pointless. Opaque tokens and JWTs without exp never expire here.
func Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
