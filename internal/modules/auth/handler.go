package auth

import (
	"net/http"
	"time"

	"github.com/campuslink/core/internal/middleware"
	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/campuslink/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc          *Service
	secureCookie bool
}

func NewHandler(svc *Service, secureCookie bool) *Handler {
	return &Handler{svc: svc, secureCookie: secureCookie}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, loginMW ...gin.HandlerFunc) {
	rg.POST("/login", append(loginMW, h.login)...)
	rg.POST("/logout", h.logout)
}

// POST /login
func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "username and password are required")
		return
	}
	res, err := h.svc.Login(c.Request.Context(), dto.Username, dto.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}
	h.setTokenCookie(c, res.Token, time.Until(res.ExpiresAt))
	response.OK(c, gin.H{"token": res.Token, "profile": res.Profile})
}

// POST /logout
func (h *Handler) logout(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		response.Unauthorized(c, apperr.ErrMissingCredential)
		return
	}
	if err := h.svc.Logout(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}
	h.setTokenCookie(c, "", -1)
	response.OK(c, gin.H{"message": "logged out"})
}

func (h *Handler) setTokenCookie(c *gin.Context, token string, ttl time.Duration) {
	maxAge := int(ttl / time.Second)
	if ttl < 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.CookieName, token, maxAge, "/", "", h.secureCookie, true)
}
