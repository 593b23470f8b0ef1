package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}

// RegisterRoutes mounts the socket.io transport and the presence snapshot.
func (h *Hub) RegisterRoutes(r gin.IRouter, authMW gin.HandlerFunc) {
	sioHandler := gin.WrapH(h.Handler())
	r.Any("/socket.io", sioHandler)
	r.Any("/socket.io/*any", sioHandler)

	if authMW != nil {
		r.GET("/presence", authMW, h.presenceSnapshot)
	} else {
		r.GET("/presence", h.presenceSnapshot)
	}
}

func (h *Hub) presenceSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"online":   h.tracker.OnlineSubjects(),
		"sessions": h.tracker.SessionCount(),
	})
}
