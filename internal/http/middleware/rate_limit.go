package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/avdeevramil/market-backend/internal/http/response"
	"github.com/avdeevramil/market-backend/internal/pkg/apperror"
)

// RateLimitMiddleware ограничивает количество запросов с одного IP.
// Это внешний рубеж; поимённые лимиты на (identity, action) проверяются
// в хэндлерах через internal/ratelimit.
func RateLimitMiddleware(store limiter.Store, limit int64, period time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = 1 * time.Minute
	}

	instance := limiter.New(store, limiter.Rate{
		Period: period,
		Limit:  limit,
	})

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		lctx, err := instance.Get(c, key)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", lctx.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", lctx.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", lctx.Reset))

		if lctx.Reached {
			response.Error(c, apperror.ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}
