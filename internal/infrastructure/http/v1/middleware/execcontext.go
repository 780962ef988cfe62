package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/execctx"
)

const (
	HeaderActorID      = "X-Actor-ID"
	HeaderBusinessDate = "X-Business-Date"

	defaultActorID = "api"
)

// ExecContext middleware stamps the execution context for core operations:
// the acting user from X-Actor-ID and the business date from X-Business-Date
// (YYYY-MM-DD, defaults to the current UTC date). Batch reruns for a past
// date pass the date explicitly.
func ExecContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetHeader(HeaderActorID)
		if actorID == "" {
			actorID = defaultActorID
		}

		today := time.Now().UTC()
		if raw := c.GetHeader(HeaderBusinessDate); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				_ = c.Error(apperror.NewValidation("malformed business date, expected YYYY-MM-DD").
					WithDetail("value", raw))
				c.Abort()
				return
			}
			today = parsed
		}

		ctx := execctx.With(c.Request.Context(), execctx.New(today, actorID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
