package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loginRateWindow = time.Minute

// LoginRateLimit caps login attempts per client IP in a fixed one-minute window.
// Redis errors fail open.
func LoginRateLimit(rdb *redis.Client, perMinute int, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if rdb == nil || perMinute <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		window := time.Now().Unix() / int64(loginRateWindow/time.Second)
		key := fmt.Sprintf("campus:rate_limit:login:%s:%d", ip, window)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warn("login rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			rdb.PExpire(ctx, key, loginRateWindow+time.Second)
		}

		if count > int64(perMinute) {
			c.Header("Retry-After", strconv.Itoa(int(loginRateWindow/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "too many login attempts, try again later",
			})
			return
		}
		c.Next()
	}
}
