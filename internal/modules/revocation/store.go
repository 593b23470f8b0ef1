// Package revocation records credentials invalidated before their natural expiry.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	KindRedis  = "redis"
	KindMemory = "memory"
)

// Store is the logout blacklist. IsRevoked must be consulted after signature and expiry
// verification on every authenticated operation.
type Store interface {
	// Revoke marks token invalid until now+ttl. Non-positive ttl is a no-op.
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
	Kind() string
}

// Key returns the identity a credential is stored under.
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
