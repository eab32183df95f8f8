package api

import "github.com/courierlink/courier/internal/store"

// MessageJSON is the wire shape of a ledger row.
type MessageJSON struct {
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

func toMessageJSON(m *store.Message) MessageJSON {
	out := MessageJSON{
		ID:                m.ID,
		SenderDeviceID:    m.SenderDeviceID,
		RecipientDeviceID: m.RecipientDeviceID,
		EncryptedContent:  m.EncryptedContent,
		ContentType:       m.ContentType,
		Status:            m.Status,
		SentAt:            m.SentAt,
	}
	if m.DeliveredAt != 0 {
		out.DeliveredAt = &m.DeliveredAt
	}
	if m.ReadAt != 0 {
		out.ReadAt = &m.ReadAt
	}
	return out
}

// DeviceJSON is the wire shape of a device.
type DeviceJSON struct {
	ID         string `json:"id"`
	IdentityID string `json:"identityId"`
	Role       string `json:"role"`
	Name       string `json:"name"`
	Key        string `json:"key,omitempty"`
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

func toDeviceJSON(d *store.Device) DeviceJSON {
	return DeviceJSON{
		ID:         d.ID,
		IdentityID: d.IdentityID,
		Role:       d.Role,
		Name:       d.Name,
		Key:        d.Key,
		LastSeenAt: d.LastSeenAt,
		CreatedAt:  d.CreatedAt,
	}
}
