package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const defaultLocationRate = "30-M"

// RateLimitMiddleware ограничивает частоту запросов одного пользователя.
// Ключ - идентификатор вызывающего, поэтому middleware ставится после IdentityMiddleware.
func RateLimitMiddleware(rate string, log *logrus.Logger) gin.HandlerFunc {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		log.WithError(err).WithField("rate", rate).Warn("Invalid rate limit, using default")
		r, _ = limiter.NewRateFromFormatted(defaultLocationRate)
	}
	lim := limiter.New(memory.NewStore(), r)

	return func(c *gin.Context) {
		key := "user:" + actorFrom(c).ID.String()
		lctx, err := lim.Get(c.Request.Context(), key)
		if err != nil {
			// при сбое хранилища запрос пропускается
			log.WithError(err).Warn("Rate limiter store failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		if lctx.Reached {
			retry := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			log.WithFields(logrus.Fields{"key": key, "path": c.FullPath()}).Warn("Rate limit reached")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
