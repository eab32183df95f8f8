// Package clientsync keeps a device's local cache in step with the relay:
// it consumes the event stream, decrypts and ingests messages, persists
// the resume cursor and uploads delivery and read receipts.
package clientsync

import (
	"encoding/json"

	"github.com/courierlink/courier/internal/cache"
	"github.com/courierlink/courier/internal/crypto"
	"github.com/courierlink/courier/internal/stream"
	"go.uber.org/zap"
)

// wireMessage matches the relay's message frame payload.
type wireMessage struct {
	ID               string `json:"id"`
	SenderDeviceID   string `json:"senderDeviceId"`
	EncryptedContent string `json:"encryptedContent"`
	ContentType      string `json:"contentType"`
	Status           string `json:"status"`
	SentAt           int64  `json:"sentAt"`
}

// wireStatus matches the relay's status frame payload.
type wireStatus struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// wirePairing matches the relay's pairing-completed frame payload.
type wirePairing struct {
	MobileDeviceID string `json:"mobileDeviceId"`
	MobileName     string `json:"mobileName"`
	MobileKey      string `json:"mobileKey"`
}

// Listener applies event stream frames to the local cache. Every handler
// is idempotent: a replayed frame converges to the same cache state.
type Listener struct {
	cache  *cache.DB
	logger *zap.Logger
}

// NewListener creates a frame listener over the given cache.
func NewListener(db *cache.DB, logger *zap.Logger) *Listener {
	return &Listener{cache: db, logger: logger}
}

// HandleFrame dispatches one stream frame. A frame that cannot be applied
// is logged and skipped; the stream must keep flowing regardless.
func (l *Listener) HandleFrame(f stream.Frame) {
	switch f.Event {
	case "message.received":
		l.handleMessage(f)
	case "message.status":
		l.handleStatus(f)
	case "pairing.completed":
		l.handlePairing(f)
	default:
		l.logger.Debug("ignoring unknown frame", zap.String("event", f.Event))
	}
}

func (l *Listener) handleMessage(f stream.Frame) {
	var wm wireMessage
	if err := json.Unmarshal(f.Data, &wm); err != nil {
		l.logger.Warn("malformed message frame", zap.Error(err))
		return
	}

	body, err := l.decrypt(wm.SenderDeviceID, wm.EncryptedContent)
	if err != nil {
		// A message we cannot read still advances the cursor, otherwise
		// reconnects replay it forever.
		l.logger.Warn("cannot decrypt message, skipping",
			zap.String("message_id", wm.ID),
			zap.String("sender_device_id", wm.SenderDeviceID),
			zap.Error(err))
		l.advanceCursor(f, wm.ID)
		return
	}

	if err := l.cache.UpsertMessage(&cache.Message{
		ID:           wm.ID,
		PeerDeviceID: wm.SenderDeviceID,
		Body:         body,
		ContentType:  wm.ContentType,
		Status:       wm.Status,
		SentAt:       wm.SentAt,
	}); err != nil {
		l.logger.Error("failed to cache message", zap.Error(err), zap.String("message_id", wm.ID))
		return
	}
	l.advanceCursor(f, wm.ID)

	if err := l.cache.QueueReceipt(wm.ID, cache.StatusDelivered); err != nil {
		l.logger.Error("failed to queue delivery receipt", zap.Error(err), zap.String("message_id", wm.ID))
	}
}

func (l *Listener) handleStatus(f stream.Frame) {
	var ws wireStatus
	if err := json.Unmarshal(f.Data, &ws); err != nil {
		l.logger.Warn("malformed status frame", zap.Error(err))
		return
	}
	if err := l.cache.ApplyStatus(ws.MessageID, ws.Status); err != nil {
		l.logger.Error("failed to apply status", zap.Error(err), zap.String("message_id", ws.MessageID))
	}
}

func (l *Listener) handlePairing(f stream.Frame) {
	var wp wirePairing
	if err := json.Unmarshal(f.Data, &wp); err != nil {
		l.logger.Warn("malformed pairing frame", zap.Error(err))
		return
	}
	if err := l.cache.UpsertPeer(&cache.Peer{
		DeviceID: wp.MobileDeviceID,
		Name:     wp.MobileName,
		SymKey:   wp.MobileKey,
	}); err != nil {
		l.logger.Error("failed to record peer", zap.Error(err), zap.String("device_id", wp.MobileDeviceID))
		return
	}
	l.logger.Info("pairing recorded",
		zap.String("device_id", wp.MobileDeviceID),
		zap.String("name", wp.MobileName))
}

func (l *Listener) decrypt(senderDeviceID, encrypted string) (string, error) {
	peer, err := l.cache.GetPeer(senderDeviceID)
	if err != nil {
		return "", err
	}
	if peer == nil {
		return "", errUnknownPeer(senderDeviceID)
	}
	plain, err := crypto.Decrypt(encrypted, peer.SymKey)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (l *Listener) advanceCursor(f stream.Frame, messageID string) {
	cursor := f.ID
	if cursor == "" {
		cursor = messageID
	}
	if err := l.cache.SetCursor(cursor); err != nil {
		l.logger.Error("failed to persist cursor", zap.Error(err), zap.String("cursor", cursor))
	}
}

type errUnknownPeer string

func (e errUnknownPeer) Error() string {
	return "no shared key for device " + string(e)
}
