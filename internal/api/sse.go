package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sseBuffer    = 32
	sseKeepAlive = 15 * time.Second
)

// checkinStream pushes live check-ins for an event as server-sent events.
// Slow readers miss payloads rather than hold up the scanners.
func (h *Handler) checkinStream(c *gin.Context) {
	eventID := c.Param("id")
	ctx := c.Request.Context()

	stats, err := h.checkins.Stats(ctx, eventID)
	if err != nil {
		writeError(c, err)
		return
	}

	feed, stop, err := h.checkins.Subscribe(ctx, eventID, sseBuffer)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
		return
	}
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("stats", stats)
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case payload := <-feed:
			c.SSEvent("checkin", string(payload))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
