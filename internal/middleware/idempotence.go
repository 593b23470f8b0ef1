package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotenceTTL    = 60 * time.Second
)

// Idempotence rejects a repeated write carrying the same Idempotency-Key from the
// same subject within a minute, so client retries of a send cannot duplicate it.
// Requests without the header, or without Redis, pass through.
func Idempotence(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if key == "" || len(key) > 128 {
			c.Next()
			return
		}

		redisKey := fmt.Sprintf("campus:idempotence:%s:%s", CurrentUserID(c), key)
		ctx := c.Request.Context()

		val, err := rdb.Get(ctx, redisKey).Result()
		if err == nil {
			msg := "duplicate request already succeeded"
			if val == "0" {
				msg = "duplicate request is still in progress"
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "message": msg})
			return
		}
		if !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}

		if ok, setErr := rdb.SetNX(ctx, redisKey, "0", idempotenceTTL).Result(); setErr != nil || !ok {
			if setErr == nil {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "message": "duplicate request is still in progress"})
				return
			}
			c.Next()
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			rdb.Set(ctx, redisKey, "1", redis.KeepTTL)
		} else {
			rdb.Del(ctx, redisKey)
		}
	}
}
