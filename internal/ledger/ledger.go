// Package ledger implements the durable message ledger and its delivery
// semantics: send persists then publishes, status updates move forward
// only, and subscriptions replay the backlog past a cursor before tailing
// live events.
package ledger

import (
	"context"
	"time"

	"github.com/courierlink/courier/internal/bus"
	"github.com/courierlink/courier/internal/fault"
	"github.com/courierlink/courier/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusUpdate is the bus payload for a message status change, published
// on the sender's channel.
type StatusUpdate struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Service is the message ledger.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a ledger service.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// Send persists a message with server-assigned ordering and, only after
// the write is durable, publishes it on the recipient's channel. A
// subscriber can never observe a message that is not yet queryable.
func (s *Service) Send(identityID, senderDeviceID, recipientDeviceID, encryptedContent, contentType string) (*store.Message, error) {
	sender, err := s.db.GetDevice(senderDeviceID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fault.NotFound("device %s not found", senderDeviceID)
	}
	if sender.IdentityID != identityID {
		return nil, fault.Forbidden("device %s does not belong to caller", senderDeviceID)
	}
	recipient, err := s.db.GetDevice(recipientDeviceID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, fault.NotFound("device %s not found", recipientDeviceID)
	}
	if encryptedContent == "" {
		return nil, fault.BadRequest("empty content")
	}
	if contentType == "" {
		contentType = "text/plain"
	}

	now := s.now()
	m := &store.Message{
		ID:                uuid.New().String(),
		SenderDeviceID:    senderDeviceID,
		RecipientDeviceID: recipientDeviceID,
		EncryptedContent:  encryptedContent,
		ContentType:       contentType,
		Status:            store.StatusSent,
		SentAt:            now.UnixMilli(),
	}
	if err := s.db.InsertMessage(m); err != nil {
		return nil, err
	}
	_ = s.db.TouchDevice(senderDeviceID, m.SentAt)

	s.bus.Publish(recipientDeviceID, bus.Event{
		Kind:      bus.KindMessageReceived,
		ID:        m.ID,
		Timestamp: now,
		Payload:   *m,
	})

	s.logger.Info("message sent",
		zap.String("message_id", m.ID),
		zap.String("sender", senderDeviceID),
		zap.String("recipient", recipientDeviceID))

	return m, nil
}

// UpdateStatus advances a message's delivery status on behalf of its
// recipient and notifies the sender's channel.
func (s *Service) UpdateStatus(identityID, messageID, status string) (*store.Message, error) {
	if status != store.StatusDelivered && status != store.StatusRead {
		return nil, fault.BadRequest("status must be %s or %s", store.StatusDelivered, store.StatusRead)
	}

	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fault.NotFound("message %s not found", messageID)
	}
	recipient, err := s.db.GetDevice(m.RecipientDeviceID)
	if err != nil {
		return nil, err
	}
	if recipient == nil || recipient.IdentityID != identityID {
		return nil, fault.Forbidden("caller is not the message recipient")
	}

	now := s.now().UnixMilli()
	ok, err := s.db.AdvanceMessageStatus(messageID, status, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.BadRequest("message is %s, cannot move to %s", m.Status, status)
	}

	s.bus.Publish(m.SenderDeviceID, bus.Event{
		Kind:      bus.KindStatusUpdated,
		Timestamp: time.UnixMilli(now),
		Payload: StatusUpdate{
			MessageID: messageID,
			Status:    status,
			Timestamp: now,
		},
	})

	return s.db.GetMessage(messageID)
}

// Subscribe opens a delivery event sequence for a device. If cursor names
// the last message the client processed, the backlog newer than it is
// replayed first, ascending by (sentAt, id), before live tailing begins.
//
// The live channel is registered before the backlog window is computed, so
// an event published in the gap is never lost; it may instead appear in
// both, and the replay ids are tracked to suppress the duplicate. The
// returned channel closes when ctx is done.
func (s *Service) Subscribe(ctx context.Context, identityID, deviceID, cursor string) (<-chan bus.Event, error) {
	dev, err := s.db.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fault.NotFound("device %s not found", deviceID)
	}
	if dev.IdentityID != identityID {
		return nil, fault.Forbidden("device %s does not belong to caller", deviceID)
	}

	var afterSentAt int64 = -1
	var afterID string
	replay := false
	if cursor != "" {
		cm, err := s.db.GetMessage(cursor)
		if err != nil {
			return nil, err
		}
		if cm == nil {
			return nil, fault.BadRequest("unknown cursor %s", cursor)
		}
		afterSentAt, afterID = cm.SentAt, cm.ID
		replay = true
	}

	// Attach to the live channel first. Anything published while the
	// backlog query runs lands in the subscription buffer and is
	// de-duplicated below.
	sub := s.bus.Subscribe(deviceID)

	var backlog []store.Message
	if replay {
		backlog, err = s.db.ListMessagesAfter(deviceID, afterSentAt, afterID)
		if err != nil {
			sub.Close()
			return nil, err
		}
	}

	_ = s.db.TouchDevice(deviceID, s.now().UnixMilli())

	out := make(chan bus.Event)
	go func() {
		defer close(out)
		defer sub.Close()

		replayed := make(map[string]struct{}, len(backlog))
		for _, m := range backlog {
			evt := bus.Event{
				Kind:      bus.KindMessageReceived,
				ID:        m.ID,
				Timestamp: time.UnixMilli(m.SentAt),
				Payload:   m,
			}
			select {
			case out <- evt:
				replayed[m.ID] = struct{}{}
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case evt := <-sub.C:
				if evt.Kind == bus.KindMessageReceived {
					if _, dup := replayed[evt.ID]; dup {
						continue
					}
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// GetPending is the poll fallback: one backlog pass over undelivered
// messages without a live subscription. since, when set, is the id of the
// last message the caller has seen.
func (s *Service) GetPending(identityID, deviceID, since string) ([]store.Message, error) {
	dev, err := s.db.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fault.NotFound("device %s not found", deviceID)
	}
	if dev.IdentityID != identityID {
		return nil, fault.Forbidden("device %s does not belong to caller", deviceID)
	}

	var afterSentAt int64 = -1
	var afterID string
	if since != "" {
		cm, err := s.db.GetMessage(since)
		if err != nil {
			return nil, err
		}
		if cm == nil {
			return nil, fault.BadRequest("unknown cursor %s", since)
		}
		afterSentAt, afterID = cm.SentAt, cm.ID
	}

	return s.db.ListUndeliveredMessages(deviceID, afterSentAt, afterID)
}
