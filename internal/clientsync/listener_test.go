package clientsync

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/courierlink/courier/internal/cache"
	"github.com/courierlink/courier/internal/crypto"
	"github.com/courierlink/courier/internal/stream"
	"go.uber.org/zap"
)

func testCache(t *testing.T) *cache.DB {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// pairPeer registers a peer with a fresh key and returns the key.
func pairPeer(t *testing.T, db *cache.DB, deviceID string) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := db.UpsertPeer(&cache.Peer{DeviceID: deviceID, Name: "phone", SymKey: key, PairedAt: 1}); err != nil {
		t.Fatalf("upsert peer: %v", err)
	}
	return key
}

func messageFrame(t *testing.T, id, sender, key, body string) stream.Frame {
	t.Helper()
	enc, err := crypto.Encrypt([]byte(body), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	data, _ := json.Marshal(wireMessage{
		ID:               id,
		SenderDeviceID:   sender,
		EncryptedContent: enc,
		ContentType:      "text",
		Status:           cache.StatusSent,
		SentAt:           100,
	})
	return stream.Frame{Event: "message.received", Data: data, ID: id}
}

func TestHandleMessageIngestsAndQueuesReceipt(t *testing.T) {
	db := testCache(t)
	key := pairPeer(t, db, "mob-1")
	l := NewListener(db, zap.NewNop())

	l.HandleFrame(messageFrame(t, "m1", "mob-1", key, "hello from phone"))

	got, err := db.GetMessage("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("message not cached")
	}
	if got.Body != "hello from phone" {
		t.Errorf("body = %q, stored ciphertext instead of plaintext?", got.Body)
	}
	if got.PeerDeviceID != "mob-1" {
		t.Errorf("peer = %q", got.PeerDeviceID)
	}

	cursor, _ := db.Cursor()
	if cursor != "m1" {
		t.Errorf("cursor = %q, want m1", cursor)
	}

	pending, _ := db.PendingReceipts()
	if len(pending) != 1 || pending[0].Status != cache.StatusDelivered {
		t.Errorf("pending receipts = %+v, want one delivered", pending)
	}
}

func TestHandleMessageReplayIsIdempotent(t *testing.T) {
	db := testCache(t)
	key := pairPeer(t, db, "mob-1")
	l := NewListener(db, zap.NewNop())

	f := messageFrame(t, "m1", "mob-1", key, "once")
	l.HandleFrame(f)
	l.HandleFrame(f)

	msgs, _ := db.ListMessages("mob-1", 10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after replay, want 1", len(msgs))
	}
	pending, _ := db.PendingReceipts()
	if len(pending) != 1 {
		t.Errorf("got %d receipts after replay, want 1", len(pending))
	}
}

func TestHandleMessageUnknownPeerSkipsButAdvancesCursor(t *testing.T) {
	db := testCache(t)
	key, _ := crypto.GenerateKey()
	l := NewListener(db, zap.NewNop())

	// Sender we never paired with: no key, cannot decrypt.
	l.HandleFrame(messageFrame(t, "m1", "mob-stranger", key, "secret"))

	if got, _ := db.GetMessage("m1"); got != nil {
		t.Errorf("undecryptable message was cached: %+v", got)
	}
	cursor, _ := db.Cursor()
	if cursor != "m1" {
		t.Errorf("cursor = %q, want m1 (skip must not wedge the stream)", cursor)
	}
}

func TestHandleStatusAppliesUpdate(t *testing.T) {
	db := testCache(t)
	key := pairPeer(t, db, "mob-1")
	l := NewListener(db, zap.NewNop())
	l.HandleFrame(messageFrame(t, "m1", "mob-1", key, "hi"))

	data, _ := json.Marshal(wireStatus{MessageID: "m1", Status: cache.StatusRead})
	l.HandleFrame(stream.Frame{Event: "message.status", Data: data})

	got, _ := db.GetMessage("m1")
	if got.Status != cache.StatusRead {
		t.Errorf("status = %q, want read", got.Status)
	}

	// Status for a message we never saw is tolerated.
	data, _ = json.Marshal(wireStatus{MessageID: "ghost", Status: cache.StatusRead})
	l.HandleFrame(stream.Frame{Event: "message.status", Data: data})
}

func TestHandlePairingRecordsPeer(t *testing.T) {
	db := testCache(t)
	l := NewListener(db, zap.NewNop())

	data, _ := json.Marshal(wirePairing{MobileDeviceID: "mob-1", MobileName: "alice phone", MobileKey: "key-b64"})
	l.HandleFrame(stream.Frame{Event: "pairing.completed", Data: data})

	peer, err := db.GetPeer("mob-1")
	if err != nil {
		t.Fatalf("get peer: %v", err)
	}
	if peer == nil || peer.Name != "alice phone" || peer.SymKey != "key-b64" {
		t.Errorf("peer = %+v", peer)
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	db := testCache(t)
	l := NewListener(db, zap.NewNop())
	l.HandleFrame(stream.Frame{Event: "something.else", Data: []byte("{}")})
}
