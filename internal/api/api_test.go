package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/courierlink/courier/internal/bus"
	"github.com/courierlink/courier/internal/ledger"
	"github.com/courierlink/courier/internal/pairing"
	"github.com/courierlink/courier/internal/store"
	"github.com/courierlink/courier/internal/stream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	tokenAlice = "tok-alice"
	tokenBob   = "tok-bob"
)

func testServer(t *testing.T) (*httptest.Server, *store.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.UpsertIdentity("alice", tokenAlice); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if err := db.UpsertIdentity("bob", tokenBob); err != nil {
		t.Fatalf("seed bob: %v", err)
	}

	logger := zap.NewNop()
	b := bus.New(8)
	a := New(db, pairing.NewCoordinator(db, b, 0, logger), ledger.NewService(db, b, logger), &StoreResolver{DB: db}, logger)

	engine := gin.New()
	a.Register(engine.Group("/api/v1"))
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, db
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func registerTestDevice(t *testing.T, srv *httptest.Server, token, role, name string) string {
	t.Helper()
	status, body := doRequest(t, srv, http.MethodPost, "/api/v1/devices", token, map[string]string{"role": role, "name": name})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %v", name, status, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("register %s: no id in %v", name, body)
	}
	return id
}

func TestAuthRequired(t *testing.T) {
	srv, _ := testServer(t)

	status, _ := doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", status)
	}
	status, _ = doRequest(t, srv, http.MethodGet, "/api/v1/devices", "nope", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("unknown token: status %d, want 401", status)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	srv, _ := testServer(t)

	id := registerTestDevice(t, srv, tokenAlice, "terminal", "work laptop")

	status, _ := doRequest(t, srv, http.MethodPost, "/api/v1/devices", tokenAlice, map[string]string{"role": "toaster", "name": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("bad role: status %d, want 400", status)
	}

	// Another identity can't see or delete it.
	status, body := doRequest(t, srv, http.MethodGet, "/api/v1/devices", tokenBob, nil)
	if status != http.StatusOK {
		t.Fatalf("bob list: status %d", status)
	}
	if len(body) != 0 {
		t.Errorf("bob sees alice's devices: %v", body)
	}
	status, _ = doRequest(t, srv, http.MethodDelete, "/api/v1/devices/"+id, tokenBob, nil)
	if status != http.StatusForbidden {
		t.Errorf("cross-identity delete: status %d, want 403", status)
	}

	status, _ = doRequest(t, srv, http.MethodDelete, "/api/v1/devices/"+id, tokenAlice, nil)
	if status != http.StatusNoContent {
		t.Errorf("delete: status %d, want 204", status)
	}
	status, _ = doRequest(t, srv, http.MethodDelete, "/api/v1/devices/"+id, tokenAlice, nil)
	if status != http.StatusNotFound {
		t.Errorf("delete twice: status %d, want 404", status)
	}
}

func TestPairingFlowOverHTTP(t *testing.T) {
	srv, _ := testServer(t)
	termID := registerTestDevice(t, srv, tokenAlice, "terminal", "laptop")
	mobID := registerTestDevice(t, srv, tokenAlice, "mobile", "phone")

	status, body := doRequest(t, srv, http.MethodPost, "/api/v1/pairing", tokenAlice, map[string]string{"terminalDeviceId": termID})
	if status != http.StatusCreated {
		t.Fatalf("initiate: status %d, body %v", status, body)
	}
	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("no sessionId in %v", body)
	}

	status, _ = doRequest(t, srv, http.MethodPost, "/api/v1/pairing/"+sessionID+"/scan", tokenAlice, nil)
	if status != http.StatusOK {
		t.Fatalf("scan: status %d", status)
	}

	status, body = doRequest(t, srv, http.MethodPost, "/api/v1/pairing/"+sessionID+"/complete", tokenAlice,
		map[string]string{"mobileDeviceId": mobID, "mobilePublicKey": "shared-key"})
	if status != http.StatusOK {
		t.Fatalf("complete: status %d, body %v", status, body)
	}
	if body["terminalDeviceId"] != termID || body["terminalKey"] != "shared-key" {
		t.Errorf("complete body = %v", body)
	}

	status, body = doRequest(t, srv, http.MethodGet, "/api/v1/pairing/"+sessionID, tokenAlice, nil)
	if status != http.StatusOK {
		t.Fatalf("status: %d", status)
	}
	if body["status"] != "completed" {
		t.Errorf("session status = %v", body["status"])
	}
	peer, _ := body["peerDevice"].(map[string]any)
	if peer == nil || peer["id"] != mobID || peer["key"] != "shared-key" {
		t.Errorf("peerDevice = %v", peer)
	}

	// Second completion attempt is rejected.
	status, _ = doRequest(t, srv, http.MethodPost, "/api/v1/pairing/"+sessionID+"/complete", tokenAlice,
		map[string]string{"mobileDeviceId": mobID, "mobilePublicKey": "another-key"})
	if status != http.StatusBadRequest {
		t.Errorf("re-complete: status %d, want 400", status)
	}
}

func TestSendAndUpdateStatus(t *testing.T) {
	srv, _ := testServer(t)
	termID := registerTestDevice(t, srv, tokenAlice, "terminal", "laptop")
	mobID := registerTestDevice(t, srv, tokenAlice, "mobile", "phone")

	status, body := doRequest(t, srv, http.MethodPost, "/api/v1/messages", tokenAlice, map[string]string{
		"senderDeviceId":    termID,
		"recipientDeviceId": mobID,
		"encryptedContent":  "blob",
		"contentType":       "text",
	})
	if status != http.StatusCreated {
		t.Fatalf("send: status %d, body %v", status, body)
	}
	msgID, _ := body["id"].(string)
	if body["status"] != "sent" || msgID == "" {
		t.Errorf("send body = %v", body)
	}

	// Bob can't send from alice's device.
	status, _ = doRequest(t, srv, http.MethodPost, "/api/v1/messages", tokenBob, map[string]string{
		"senderDeviceId":    termID,
		"recipientDeviceId": mobID,
		"encryptedContent":  "blob",
	})
	if status != http.StatusForbidden {
		t.Errorf("cross-identity send: status %d, want 403", status)
	}

	status, body = doRequest(t, srv, http.MethodPost, "/api/v1/messages/"+msgID+"/status", tokenAlice, map[string]string{"status": "delivered"})
	if status != http.StatusOK {
		t.Fatalf("delivered: status %d, body %v", status, body)
	}
	if body["deliveredAt"] == nil {
		t.Errorf("deliveredAt not set: %v", body)
	}

	status, _ = doRequest(t, srv, http.MethodPost, "/api/v1/messages/"+msgID+"/status", tokenAlice, map[string]string{"status": "read"})
	if status != http.StatusOK {
		t.Fatalf("read: status %d", status)
	}
	// Regression is rejected.
	status, _ = doRequest(t, srv, http.MethodPost, "/api/v1/messages/"+msgID+"/status", tokenAlice, map[string]string{"status": "delivered"})
	if status != http.StatusBadRequest {
		t.Errorf("regress: status %d, want 400", status)
	}
}

func TestPendingMessages(t *testing.T) {
	srv, _ := testServer(t)
	termID := registerTestDevice(t, srv, tokenAlice, "terminal", "laptop")
	mobID := registerTestDevice(t, srv, tokenAlice, "mobile", "phone")

	doRequest(t, srv, http.MethodPost, "/api/v1/messages", tokenAlice, map[string]string{
		"senderDeviceId": mobID, "recipientDeviceId": termID, "encryptedContent": "one",
	})

	status, _ := doRequest(t, srv, http.MethodGet, "/api/v1/messages/pending", tokenAlice, nil)
	if status != http.StatusBadRequest {
		t.Errorf("missing deviceId: status %d, want 400", status)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/messages/pending?deviceId="+termID, nil)
	req.Header.Set("Authorization", "Bearer "+tokenAlice)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var msgs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0]["encryptedContent"] != "one" {
		t.Errorf("pending = %v", msgs)
	}
}

// TestEventStreamEndToEnd drives the full path: HTTP stream subscription,
// a send on the ledger, and the client-side frame parser.
func TestEventStreamEndToEnd(t *testing.T) {
	srv, _ := testServer(t)
	termID := registerTestDevice(t, srv, tokenAlice, "terminal", "laptop")
	mobID := registerTestDevice(t, srv, tokenAlice, "mobile", "phone")

	frames := make(chan stream.Frame, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := stream.NewClient(stream.NewHTTPConnector(),
		srv.URL+"/api/v1/events?deviceId="+termID, tokenAlice,
		func(f stream.Frame) { frames <- f },
		func(err error) { t.Errorf("stream error: %v", err) })

	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()

	// Give the subscription time to register before sending.
	time.Sleep(100 * time.Millisecond)

	status, body := doRequest(t, srv, http.MethodPost, "/api/v1/messages", tokenAlice, map[string]string{
		"senderDeviceId": mobID, "recipientDeviceId": termID, "encryptedContent": "live-blob",
	})
	if status != http.StatusCreated {
		t.Fatalf("send: status %d, body %v", status, body)
	}
	msgID, _ := body["id"].(string)

	select {
	case f := <-frames:
		if f.Event != "message.received" {
			t.Errorf("event = %q", f.Event)
		}
		if f.ID != msgID {
			t.Errorf("frame id = %q, want %q", f.ID, msgID)
		}
		var m struct {
			EncryptedContent string `json:"encryptedContent"`
		}
		if err := json.Unmarshal(f.Data, &m); err != nil {
			t.Fatalf("frame data: %v", err)
		}
		if m.EncryptedContent != "live-blob" {
			t.Errorf("content = %q", m.EncryptedContent)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream client did not stop")
	}
}

// TestEventStreamReplaysBacklog covers reconnect-with-cursor over HTTP.
func TestEventStreamReplaysBacklog(t *testing.T) {
	srv, _ := testServer(t)
	termID := registerTestDevice(t, srv, tokenAlice, "terminal", "laptop")
	mobID := registerTestDevice(t, srv, tokenAlice, "mobile", "phone")

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		status, body := doRequest(t, srv, http.MethodPost, "/api/v1/messages", tokenAlice, map[string]string{
			"senderDeviceId": mobID, "recipientDeviceId": termID, "encryptedContent": content,
		})
		if status != http.StatusCreated {
			t.Fatalf("send %s: status %d", content, status)
		}
		ids = append(ids, body["id"].(string))
	}

	frames := make(chan stream.Frame, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resume after the first message: expect the remaining two, in order.
	sc := stream.NewClient(stream.NewHTTPConnector(),
		srv.URL+"/api/v1/events?deviceId="+termID+"&cursor="+ids[0], tokenAlice,
		func(f stream.Frame) { frames <- f }, nil)
	go func() { _ = sc.Run(ctx) }()

	for _, want := range ids[1:] {
		select {
		case f := <-frames:
			if f.ID != want {
				t.Errorf("replayed id = %q, want %q", f.ID, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("missing replay frame for %s", want)
		}
	}
}
