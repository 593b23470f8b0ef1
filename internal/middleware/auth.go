package middleware

import (
	"github.com/campuslink/core/internal/pkg/jwt"
	"github.com/campuslink/core/internal/pkg/response"
	"github.com/campuslink/core/internal/pkg/session"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyClaims = "claims"
	ContextKeyToken  = "token"

	// CookieName is the HTTP-only cookie mirroring the bearer credential.
	CookieName = "campus_token"
)

// Auth rejects requests without an unrevoked, valid credential.
func Auth(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		claims, err := sessions.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyToken, token)
		c.Next()
	}
}

// CurrentUserID extracts the authenticated subject id from context.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// CurrentClaims returns the verified claims, or nil outside Auth.
func CurrentClaims(c *gin.Context) *jwt.Claims {
	v, _ := c.Get(ContextKeyClaims)
	claims, _ := v.(*jwt.Claims)
	return claims
}

// CurrentToken returns the raw credential accepted by Auth.
func CurrentToken(c *gin.Context) string {
	return c.GetString(ContextKeyToken)
}

// ExtractToken reads the credential from the Authorization header, the session
// cookie or the token query parameter, in that order.
func ExtractToken(c *gin.Context) string {
	if token := session.NormalizeToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if raw, err := c.Cookie(CookieName); err == nil {
		if token := session.NormalizeToken(raw); token != "" {
			return token
		}
	}
	return session.NormalizeToken(c.Query("token"))
}
