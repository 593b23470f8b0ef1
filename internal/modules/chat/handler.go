package chat

import (
	"github.com/campuslink/core/internal/middleware"
	"github.com/campuslink/core/internal/pkg/pagination"
	"github.com/campuslink/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the chat endpoints behind authMW. sendMW runs after
// authentication on POST /messages only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, sendMW ...gin.HandlerFunc) {
	chats := rg.Group("/chats", authMW)
	chats.POST("/ensure", h.ensure)
	chats.GET("", h.listChats)

	msgs := rg.Group("/messages", authMW)
	msgs.POST("", append(sendMW, h.send)...)
	msgs.GET("/:chatId", h.listMessages)
	msgs.PUT("/:chatId/seen", h.markSeen)
}

// POST /chats/ensure
func (h *Handler) ensure(c *gin.Context) {
	var dto EnsureChatDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	chat, err := h.svc.EnsureChat(c.Request.Context(), middleware.CurrentUserID(c), dto.WithUserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"chat": chat})
}

// GET /chats
func (h *Handler) listChats(c *gin.Context) {
	chats, err := h.svc.ListChats(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"chats": chats})
}

// POST /messages
func (h *Handler) send(c *gin.Context) {
	var dto SendMessageDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	msg, err := h.svc.SendMessage(c.Request.Context(), dto.ChatID, middleware.CurrentUserID(c), dto.ReceiverID(), dto.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": msg})
}

// GET /messages/:chatId?before=&limit=
func (h *Handler) listMessages(c *gin.Context) {
	cursor, err := pagination.FromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	msgs, err := h.svc.ListMessagesFor(c.Request.Context(), middleware.CurrentUserID(c), c.Param("chatId"), cursor.Before, cursor.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// PUT /messages/:chatId/seen
func (h *Handler) markSeen(c *gin.Context) {
	n, err := h.svc.MarkSeen(c.Request.Context(), c.Param("chatId"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"updated": n})
}
