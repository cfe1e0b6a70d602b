package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/millbright/factoryops/backend/internal/relay"
)

const heartbeatInterval = 25 * time.Second

// streamTopic serves one relay topic as a server-sent event stream. Each
// event is a single `data:` frame with the JSON payload; a comment frame
// keeps idle connections alive through proxies. The subscription ends when
// the client disconnects.
func (h *httpHandler) streamTopic(topic relay.Topic) gin.HandlerFunc {
	return func(c *gin.Context) {
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
			return
		}

		events, cancel := h.broadcaster.Subscribe(c.Request.Context(), topic)
		defer cancel()

		header := c.Writer.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		requestContext := c.Request.Context()
		for {
			select {
			case <-requestContext.Done():
				return
			case event, open := <-events:
				if !open {
					return
				}
				payload, err := json.Marshal(event.Payload)
				if err != nil {
					h.logger.Warn("failed to encode stream payload",
						zap.String("topic", string(topic)), zap.Error(err))
					continue
				}
				fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
				flusher.Flush()
			case <-heartbeat.C:
				fmt.Fprint(c.Writer, ": heartbeat\n\n")
				flusher.Flush()
			}
		}
	}
}
