package clientsync

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/courierlink/courier/internal/cache"
	"github.com/courierlink/courier/internal/client"
	"github.com/courierlink/courier/internal/stream"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Engine runs a device's live connection to the relay: it opens the event
// stream from the persisted cursor, feeds frames to the listener and
// reconnects with backoff when the stream drops.
type Engine struct {
	api       *client.Client
	cache     *cache.DB
	listener  *Listener
	machine   *Machine
	connector stream.Connector
	deviceID  string
	logger    *zap.Logger
}

// NewEngine creates a sync engine for the given device.
func NewEngine(api *client.Client, db *cache.DB, connector stream.Connector, deviceID string, logger *zap.Logger) *Engine {
	machine := NewMachine(func(from, to State) {
		logger.Info("connection state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	})
	return &Engine{
		api:       api,
		cache:     db,
		listener:  NewListener(db, logger),
		machine:   machine,
		connector: connector,
		deviceID:  deviceID,
		logger:    logger,
	}
}

// State reports the current connection state.
func (e *Engine) State() State {
	return e.machine.Current()
}

// Run streams events until ctx is cancelled. Each reconnect resumes from
// the cursor the listener last persisted, so no delivery is lost across
// drops.
func (e *Engine) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			_ = e.machine.Transition(Stopped)
			return nil
		}
		_ = e.machine.Transition(Connecting)

		cursor, err := e.cache.Cursor()
		if err != nil {
			e.logger.Error("failed to read cursor", zap.Error(err))
		}

		connected := notifyConnector{
			inner: e.connector,
			onConnect: func() {
				_ = e.machine.Transition(Streaming)
				backoff = initialBackoff
				e.logger.Info("event stream connected",
					zap.String("device_id", e.deviceID),
					zap.String("cursor", cursor))
			},
		}

		sc := stream.NewClient(connected, e.api.EventsURL(e.deviceID, cursor), e.api.Token(),
			e.listener.HandleFrame,
			func(err error) {
				e.logger.Warn("event stream error", zap.Error(err))
			})

		if err := sc.Run(ctx); err == nil {
			// Clean exit only happens on cancellation.
			_ = e.machine.Transition(Stopped)
			return nil
		}

		_ = e.machine.Transition(Reconnecting)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			_ = e.machine.Transition(Stopped)
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// notifyConnector reports successful connects to the engine.
type notifyConnector struct {
	inner     stream.Connector
	onConnect func()
}

func (n notifyConnector) Connect(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	rc, err := n.inner.Connect(ctx, url, header)
	if err == nil {
		n.onConnect()
	}
	return rc, err
}

// APIReporter adapts the relay client to the StatusReporter interface.
type APIReporter struct {
	Client *client.Client
}

func (r *APIReporter) ReportStatus(ctx context.Context, messageID, status string) error {
	_, err := r.Client.UpdateMessageStatus(ctx, messageID, status)
	return err
}
