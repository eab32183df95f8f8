package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/courierlink/courier/internal/bus"
	"github.com/courierlink/courier/internal/fault"
	"github.com/courierlink/courier/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// heartbeatInterval is how often the stream writes a comment line to keep
// intermediaries from idling the connection out.
const heartbeatInterval = 15 * time.Second

// streamEvents is the push endpoint. One long-lived request per device
// connection; frames are written in the exact format the client parser
// splits on: `event: <type>`, `data: <json>`, `id: <cursor>`, blank line.
func (a *API) streamEvents(c *gin.Context) {
	deviceID := c.Query("deviceId")
	if deviceID == "" {
		a.writeError(c, fault.BadRequest("missing deviceId"))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		a.writeError(c, fmt.Errorf("streaming unsupported by writer"))
		return
	}

	ctx := c.Request.Context()
	events, err := a.ledger.Subscribe(ctx, identityOf(c), deviceID, c.Query("cursor"))
	if err != nil {
		a.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Info("event stream opened", zap.String("device_id", deviceID))
	defer a.logger.Info("event stream closed", zap.String("device_id", deviceID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeFrame(c.Writer, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, evt bus.Event) error {
	data, err := marshalPayload(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", evt.Kind); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n", data); err != nil {
		return err
	}
	if evt.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", evt.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}

func marshalPayload(evt bus.Event) ([]byte, error) {
	if m, ok := evt.Payload.(store.Message); ok {
		return json.Marshal(toMessageJSON(&m))
	}
	return json.Marshal(evt.Payload)
}
