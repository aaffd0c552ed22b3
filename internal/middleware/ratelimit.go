package middleware

import (
	"context"
	"strconv"
	"time"

	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"
	"arcade-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter is a fixed-window counter per player kept in redis.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func NewLimiter(rdb *redis.Client, prefix string, limit int64, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Allow counts one hit for playerID. Redis failures let the request through.
func (l *Limiter) Allow(ctx context.Context, playerID int64) error {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return nil
	}
	key := l.prefix + ":" + strconv.FormatInt(playerID, 10)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		logger.Log.Warn("rate limit unavailable", zap.String("key", key), zap.Error(err))
		return nil
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			logger.Log.Warn("rate limit expire failed", zap.String("key", key), zap.Error(err))
		}
	}
	if n > l.limit {
		return appErr.ErrRateLimited
	}
	return nil
}

// RateLimit must run after AuthRequired.
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID, ok := PlayerID(c)
		if !ok {
			c.Next()
			return
		}
		if err := l.Allow(c.Request.Context(), playerID); err != nil {
			response.FromError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
