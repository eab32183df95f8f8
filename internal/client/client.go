// Package client is the typed HTTP client the terminal and mobile sides
// use to talk to the relay daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError carries the relay's error body and HTTP status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the relay's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the relay at baseURL, authenticating every
// request with the given bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the bearer token this client authenticates with.
func (c *Client) Token() string { return c.token }

// EventsURL builds the event stream URL for a device, optionally resuming
// from a cursor.
func (c *Client) EventsURL(deviceID, cursor string) string {
	q := url.Values{}
	q.Set("deviceId", deviceID)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.baseURL + "/api/v1/events?" + q.Encode()
}

// Device mirrors the relay's device wire shape.
type Device struct {
	ID         string `json:"id"`
	IdentityID string `json:"identityId"`
	Role       string `json:"role"`
	Name       string `json:"name"`
	Key        string `json:"key,omitempty"`
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// Message mirrors the relay's ledger wire shape.
type Message struct {
	ID                string `json:"id"`
	SenderDeviceID    string `json:"senderDeviceId"`
	RecipientDeviceID string `json:"recipientDeviceId"`
	EncryptedContent  string `json:"encryptedContent"`
	ContentType       string `json:"contentType"`
	Status            string `json:"status"`
	SentAt            int64  `json:"sentAt"`
	DeliveredAt       *int64 `json:"deliveredAt"`
	ReadAt            *int64 `json:"readAt"`
}

// PairingPayload is the content of the scannable code.
type PairingPayload struct {
	SessionID string `json:"sessionId"`
	Version   int    `json:"version"`
}

// PairingSession is the relay's response to an initiate call.
type PairingSession struct {
	SessionID string         `json:"sessionId"`
	Payload   PairingPayload `json:"payload"`
	ExpiresAt int64          `json:"expiresAt"`
}

// PairingStatus reports where a session is in its lifecycle. PeerDevice is
// set once the session completes.
type PairingStatus struct {
	Status     string  `json:"status"`
	PeerDevice *Device `json:"peerDevice"`
}

// CompleteResult is what the mobile side learns when it confirms a pairing.
type CompleteResult struct {
	TerminalDeviceID string `json:"terminalDeviceId"`
	TerminalName     string `json:"terminalName"`
	TerminalKey      string `json:"terminalKey"`
}

// RegisterDevice creates a device under the caller's identity.
func (c *Client) RegisterDevice(ctx context.Context, name, role string) (*Device, error) {
	var out Device
	err := c.do(ctx, http.MethodPost, "/api/v1/devices", map[string]string{"name": name, "role": role}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDevices returns the caller's devices.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.do(ctx, http.MethodGet, "/api/v1/devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDevice removes a device and everything hanging off it.
func (c *Client) DeleteDevice(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/devices/"+url.PathEscape(deviceID), nil, nil)
}

// Unpair deactivates all pairings involving the device.
func (c *Client) Unpair(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/pairings/"+url.PathEscape(deviceID), nil, nil)
}

// InitiatePairing starts a pairing session for a terminal device.
func (c *Client) InitiatePairing(ctx context.Context, terminalDeviceID string) (*PairingSession, error) {
	var out PairingSession
	err := c.do(ctx, http.MethodPost, "/api/v1/pairing", map[string]string{"terminalDeviceId": terminalDeviceID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ScanPairing flags a session as scanned by the mobile side.
func (c *Client) ScanPairing(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/pairing/"+url.PathEscape(sessionID)+"/scan", nil, nil)
}

// CompletePairing confirms a scanned session and exchanges keys.
func (c *Client) CompletePairing(ctx context.Context, sessionID, mobileDeviceID, mobileKey string) (*CompleteResult, error) {
	var out CompleteResult
	err := c.do(ctx, http.MethodPost, "/api/v1/pairing/"+url.PathEscape(sessionID)+"/complete",
		map[string]string{"mobileDeviceId": mobileDeviceID, "mobilePublicKey": mobileKey}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPairingStatus polls a session's lifecycle state.
func (c *Client) GetPairingStatus(ctx context.Context, sessionID string) (*PairingStatus, error) {
	var out PairingStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/pairing/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelPairing expires a session early.
func (c *Client) CancelPairing(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/pairing/"+url.PathEscape(sessionID), nil, nil)
}

// SendMessage submits an already-encrypted message to the ledger.
func (c *Client) SendMessage(ctx context.Context, senderDeviceID, recipientDeviceID, encryptedContent, contentType string) (*Message, error) {
	var out Message
	err := c.do(ctx, http.MethodPost, "/api/v1/messages", map[string]string{
		"senderDeviceId":    senderDeviceID,
		"recipientDeviceId": recipientDeviceID,
		"encryptedContent":  encryptedContent,
		"contentType":       contentType,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMessageStatus reports a delivered or read receipt for a message.
func (c *Client) UpdateMessageStatus(ctx context.Context, messageID, status string) (*Message, error) {
	var out Message
	err := c.do(ctx, http.MethodPost, "/api/v1/messages/"+url.PathEscape(messageID)+"/status",
		map[string]string{"status": status}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingMessages fetches undelivered messages for a device, optionally
// after a cursor.
func (c *Client) PendingMessages(ctx context.Context, deviceID, since string) ([]Message, error) {
	q := url.Values{}
	q.Set("deviceId", deviceID)
	if since != "" {
		q.Set("since", since)
	}
	var out []Message
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/pending?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}
