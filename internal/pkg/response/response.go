package response

import (
	"errors"
	"net/http"

	"github.com/campuslink/core/internal/pkg/apperr"
	"github.com/gin-gonic/gin"
)

// hideInternal suppresses raw error text on 500 responses.
var hideInternal bool

// SetProduction toggles whether internal error details leave the process.
func SetProduction(production bool) { hideInternal = production }

// OK sends {success:true, ...fields}.
func OK(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		if k == "success" {
			continue
		}
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Data sends {success:true, data}.
func Data(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 with the auth failure reason.
func Unauthorized(c *gin.Context, err error) {
	reason := apperr.Reason(err)
	if reason == "" {
		reason = "invalid"
	}
	message := "unauthorized"
	if err != nil {
		message = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": message,
		"reason":  reason,
	})
}

// TooManyRequests sends a 429 error response.
func TooManyRequests(c *gin.Context, message string) {
	fail(c, http.StatusTooManyRequests, message)
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context, message string) {
	if message == "" {
		message = "not found"
	}
	fail(c, http.StatusNotFound, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, err error) {
	message := "internal server error"
	if !hideInternal && err != nil {
		message = err.Error()
	}
	fail(c, http.StatusInternalServerError, message)
}

// Error maps an application error onto its HTTP status.
func Error(c *gin.Context, err error) {
	switch {
	case err == nil:
		InternalError(c, errors.New("unknown error"))
	case apperr.IsAuth(err):
		Unauthorized(c, err)
	case errors.Is(err, apperr.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, apperr.ErrTransientStore):
		fail(c, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		_ = c.Error(err)
		InternalError(c, err)
	}
}
