package stream

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// FrameHandler receives each dispatched frame, in arrival order.
type FrameHandler func(Frame)

// ErrorHandler receives the transport failure that ended the stream.
// Cancellation is not a failure and never reaches it.
type ErrorHandler func(error)

// Client consumes one push stream connection. It does not reconnect; the
// caller re-establishes with the last cursor after a failure.
type Client struct {
	connector Connector
	url       string
	token     string
	onFrame   FrameHandler
	onError   ErrorHandler

	mu     sync.Mutex
	lastID string
}

// NewClient creates a stream client. onError may be nil.
func NewClient(connector Connector, url, token string, onFrame FrameHandler, onError ErrorHandler) *Client {
	return &Client{
		connector: connector,
		url:       url,
		token:     token,
		onFrame:   onFrame,
		onError:   onError,
	}
}

// LastEventID returns the cursor of the last frame that carried one.
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

// Run connects and consumes the stream until ctx is cancelled or the
// transport fails. The read loop is the only dispatcher, so callbacks fire
// strictly in frame order and none fire after Run returns.
//
// Cancellation is a normal exit: Run returns nil and the error callback is
// not invoked. Any other transport failure is passed to the error callback
// and returned.
func (c *Client) Run(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Accept", "text/event-stream")

	body, err := c.connector.Connect(ctx, c.url, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.fail(err)
		return err
	}
	defer func() { _ = body.Close() }()

	var parser Parser
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, f := range parser.Feed(buf[:n]) {
				if ctx.Err() != nil {
					return nil
				}
				if f.ID != "" {
					c.mu.Lock()
					c.lastID = f.ID
					c.mu.Unlock()
				}
				c.onFrame(f)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				// Abort path: the read failed because the
				// request context was cancelled.
				return nil
			}
			if err == io.EOF {
				// Server closed an open-ended stream; the
				// caller should reconnect with the cursor.
				c.fail(io.ErrUnexpectedEOF)
				return io.ErrUnexpectedEOF
			}
			c.fail(err)
			return err
		}
	}
}

func (c *Client) fail(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
