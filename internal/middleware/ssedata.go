package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dreamcanvas-backend/internal/clients/redis"
	"github.com/yungbote/dreamcanvas-backend/internal/sse"
	"github.com/yungbote/dreamcanvas-backend/internal/ssedata"
)

// SSEDataMiddleware collects events appended during the request and flushes
// them after the handler finishes, so clients never see an event for a
// request that later failed.
func SSEDataMiddleware(hub *sse.SSEHub, bus redis.EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ssedata.WithSSEData(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		data := ssedata.GetSSEData(c.Request.Context())
		if data == nil || c.Writer.Status() >= 400 {
			return
		}
		for _, msg := range data.Messages {
			if hub != nil {
				hub.Broadcast(msg)
			}
			if bus != nil {
				_ = bus.Publish(context.Background(), msg)
			}
		}
	}
}
