package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Connector opens the underlying long-lived byte stream. Abstracting the
// transport keeps the framing logic testable and lets alternate transports
// substitute for plain HTTP.
type Connector interface {
	Connect(ctx context.Context, url string, header http.Header) (io.ReadCloser, error)
}

// HTTPConnector connects with a standard HTTP client. The request carries
// the caller's headers from the start; the server authenticates at
// connection time, so credentials cannot be added after the fact.
type HTTPConnector struct {
	Client *http.Client
}

// NewHTTPConnector returns a connector over http.DefaultClient semantics
// without a client timeout, which would kill the long-lived stream.
func NewHTTPConnector() *HTTPConnector {
	return &HTTPConnector{Client: &http.Client{}}
}

func (h *HTTPConnector) Connect(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream rejected: %s: %s", resp.Status, body)
	}
	return resp.Body, nil
}
