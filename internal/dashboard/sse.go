package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/muster/internal/models"
)

// streamBatch caps how many rows one poll reads from the journal.
const streamBatch = 100

// stream pushes journal rows recorded after the client connected as SSE
// "session_event" events.
func (h *handlers) stream(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()

	// Only rows newer than the current head are streamed.
	var lastSeenID uint
	if head, err := h.events.Recent(ctx, 1); err == nil && len(head) > 0 {
		lastSeenID = head[0].ID
	}

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ticker := time.NewTicker(h.poll)
	heartbeat := time.NewTicker(15 * time.Second)
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
			rows, err := h.events.Recent(ctx, streamBatch)
			if err != nil {
				continue
			}
			fresh := newerThan(rows, lastSeenID)
			if len(fresh) == 0 {
				continue
			}
			for _, row := range fresh {
				writeSSE(c.Writer, "session_event", row)
			}
			lastSeenID = fresh[len(fresh)-1].ID
			c.Writer.Flush()
		}
	}
}

// newerThan returns the rows with an ID above last, oldest first. rows is
// newest first, as Recent returns them.
func newerThan(rows []models.SessionEvent, last uint) []models.SessionEvent {
	var out []models.SessionEvent
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].ID > last {
			out = append(out, rows[i])
		}
	}
	return out
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
