package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/agentbus/internal/journal"
)

const (
	ssePollInterval = 2 * time.Second
	sseHeartbeat    = 15 * time.Second
	sseBatch        = 100
)

// handleSSE streams journal events as they are recorded.
func (s *server) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	if s.journal == nil {
		return
	}

	// Only stream events recorded after the client connected.
	var lastSeenID uint
	if latest, err := s.journal.Recent(1); err == nil && len(latest) > 0 {
		lastSeenID = latest[0].ID
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(ssePollInterval)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			events, err := s.journal.Query(journal.Filter{AfterID: lastSeenID, Limit: sseBatch})
			if err != nil {
				s.logger.Printf("dashboard: sse: %v", err)
				continue
			}
			// Query returns newest first; send in recorded order.
			for i := len(events) - 1; i >= 0; i-- {
				writeSSE(c.Writer, events[i].Kind, events[i])
				lastSeenID = events[i].ID
			}
			if len(events) > 0 {
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
