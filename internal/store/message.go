package store

import "database/sql"

// InsertMessage persists a new ledger row.
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, sender_device_id, recipient_device_id, encrypted_content, content_type, status, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderDeviceID, m.RecipientDeviceID, m.EncryptedContent, m.ContentType, m.Status, m.SentAt)
	return err
}

// GetMessage returns a message by id, or nil if unknown.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, sender_device_id, recipient_device_id, encrypted_content, content_type, status, sent_at, delivered_at, read_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessagesAfter returns messages addressed to a device newer than the
// cursor position, ascending by (sent_at, id). The cursor is the (sentAt,
// id) of the last message the client has seen; a tuple comparison keeps
// messages sharing the cursor's timestamp from being skipped.
func (db *DB) ListMessagesAfter(recipientDeviceID string, afterSentAt int64, afterID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, sender_device_id, recipient_device_id, encrypted_content, content_type, status, sent_at, delivered_at, read_at
		FROM messages
		WHERE recipient_device_id = ?
		  AND (sent_at > ? OR (sent_at = ? AND id > ?))
		ORDER BY sent_at, id`,
		recipientDeviceID, afterSentAt, afterSentAt, afterID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListUndeliveredMessages returns messages for a device still in a
// pre-delivery status, optionally past a cursor, ascending by (sent_at, id).
func (db *DB) ListUndeliveredMessages(recipientDeviceID string, afterSentAt int64, afterID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, sender_device_id, recipient_device_id, encrypted_content, content_type, status, sent_at, delivered_at, read_at
		FROM messages
		WHERE recipient_device_id = ?
		  AND status IN (?, ?)
		  AND (sent_at > ? OR (sent_at = ? AND id > ?))
		ORDER BY sent_at, id`,
		recipientDeviceID, StatusPending, StatusSent, afterSentAt, afterSentAt, afterID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// AdvanceMessageStatus moves a message's status forward, guarding against
// regression: delivered only from sent, read only from sent or delivered.
// The matching timestamp is set exactly once. Returns false if the current
// status does not permit the transition.
func (db *DB) AdvanceMessageStatus(id, status string, at int64) (bool, error) {
	var res sql.Result
	var err error
	switch status {
	case StatusDelivered:
		res, err = db.Exec(`
			UPDATE messages SET status = ?, delivered_at = ?
			WHERE id = ? AND status = ?`,
			StatusDelivered, at, id, StatusSent)
	case StatusRead:
		res, err = db.Exec(`
			UPDATE messages SET status = ?, read_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			StatusRead, at, id, StatusSent, StatusDelivered)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var delivered, read sql.NullInt64
	if err := row.Scan(&m.ID, &m.SenderDeviceID, &m.RecipientDeviceID, &m.EncryptedContent,
		&m.ContentType, &m.Status, &m.SentAt, &delivered, &read); err != nil {
		return nil, err
	}
	m.DeliveredAt = delivered.Int64
	m.ReadAt = read.Int64
	return &m, nil
}
