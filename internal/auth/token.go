// Package auth provides the token sources the transport draws bearer
// tokens from.
package auth

import (
	"context"
	"fmt"
)

// TokenManager supplies the bearer token for outbound requests.
type TokenManager interface {
	GetToken(ctx context.Context) (string, error)
}

// StaticTokenManager provides a fixed token.
type StaticTokenManager struct {
	token string
}

// NewStaticTokenManager creates a token manager around a fixed token.
func NewStaticTokenManager(token string) *StaticTokenManager {
	return &StaticTokenManager{token: token}
}

// GetToken implements TokenManager.
func (m *StaticTokenManager) GetToken(ctx context.Context) (string, error) {
	return m.token, nil
}

// FuncTokenManager defers to a callback on every request, for rotating
// credentials.
type FuncTokenManager struct {
	fn func(ctx context.Context) (string, error)
}

// NewFuncTokenManager creates a token manager around fn.
func NewFuncTokenManager(fn func(ctx context.Context) (string, error)) *FuncTokenManager {
	return &FuncTokenManager{fn: fn}
}

// GetToken implements TokenManager.
func (m *FuncTokenManager) GetToken(ctx context.Context) (string, error) {
	token, err := m.fn(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching token: %w", err)
	}

	return token, nil
}
