package session

import (
	"context"
	"strings"
	"sync"

	"github.com/campuslink/core/internal/modules/revocation"
	"github.com/campuslink/core/internal/pkg/apperr"
	jwtpkg "github.com/campuslink/core/internal/pkg/jwt"
	"github.com/campuslink/core/internal/pkg/retry"
)

// Manager gates REST and real-time access: signature and expiry first, then the
// revocation store.
type Manager struct {
	issuer      *jwtpkg.Issuer
	revocations revocation.Store

	mu       sync.RWMutex
	onRevoke []func(token string)
}

func NewManager(issuer *jwtpkg.Issuer, revocations revocation.Store) *Manager {
	return &Manager{issuer: issuer, revocations: revocations}
}

// Issuer exposes the credential service.
func (m *Manager) Issuer() *jwtpkg.Issuer { return m.issuer }

// RevocationKind names the active revocation backend.
func (m *Manager) RevocationKind() string { return m.revocations.Kind() }

// Issue signs a credential for a verified subject.
func (m *Manager) Issue(userID string, attrs jwtpkg.Attributes) (string, *jwtpkg.Claims, error) {
	return m.issuer.Issue(userID, attrs)
}

// Authenticate returns the claims of an unrevoked, valid credential.
func (m *Manager) Authenticate(ctx context.Context, rawToken string) (*jwtpkg.Claims, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		return nil, apperr.ErrMissingCredential
	}
	claims, err := m.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	revoked, err := retry.Read(ctx, func() (bool, error) {
		return m.revocations.IsRevoked(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.ErrTokenRevoked
	}
	return claims, nil
}

// OnRevoke registers fn to run with the normalized token after each successful
// revocation.
func (m *Manager) OnRevoke(fn func(token string)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onRevoke = append(m.onRevoke, fn)
	m.mu.Unlock()
}

// Revoke blacklists a credential for the rest of its natural lifetime. Invalid or
// already expired credentials need no entry.
func (m *Manager) Revoke(ctx context.Context, rawToken string) error {
	token := NormalizeToken(rawToken)
	if token == "" {
		return apperr.ErrMissingCredential
	}
	claims, err := m.issuer.Verify(token)
	if err != nil {
		return nil
	}
	if err := m.revocations.Revoke(ctx, token, m.issuer.Remaining(claims)); err != nil {
		return err
	}

	m.mu.RLock()
	hooks := append([]func(string){}, m.onRevoke...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(token)
	}
	return nil
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
