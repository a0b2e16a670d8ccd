// Package auth holds API key identity types for the admin surface.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active API key matches the given hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
