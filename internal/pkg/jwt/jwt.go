package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/google/uuid"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the validity window of an access credential.
const DefaultTTL = 24 * time.Hour

// Claims is the JWT payload. Unknown claims in a token are ignored on parse.
type Claims struct {
	UserID string `json:"uid"`
	Name   string `json:"name,omitempty"`
	jwtlib.RegisteredClaims
}

// Attributes are optional claims carried next to the subject id.
type Attributes struct {
	Name string
}

// Issuer signs and verifies access credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. An empty secret is a fatal configuration error.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, apperr.Config("jwt_secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the validity window of newly issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue creates a signed token for the given subject.
func (i *Issuer) Issue(userID string, attrs Attributes) (string, *Claims, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, errors.New("subject id is required")
	}
	now := i.now()
	claims := &Claims{
		UserID: userID,
		Name:   attrs.Name,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Verify validates signature, structure and expiry.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwtlib.WithTimeFunc(i.now),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidCredential, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrInvalidCredential)
	}
	return claims, nil
}

// Remaining returns how long the claims stay valid, never negative.
func (i *Issuer) Remaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Sub(i.now())
	if d < 0 {
		return 0
	}
	return d
}
