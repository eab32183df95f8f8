package cache

import "time"

// rankCase maps a stored status to its lifecycle rank inside SQL.
const rankCase = `CASE local_messages.status WHEN 'read' THEN 3 WHEN 'delivered' THEN 2 WHEN 'sent' THEN 1 ELSE 0 END`

// UpsertMessage inserts or updates a message (idempotent on id).
// A replayed copy of an already-cached message never moves its status
// backwards.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO local_messages (id, peer_device_id, body, content_type, from_me, status, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			content_type = excluded.content_type,
			status = CASE WHEN ? > (`+rankCase+`) THEN excluded.status ELSE local_messages.status END`,
		m.ID, m.PeerDeviceID, m.Body, m.ContentType, m.FromMe, m.Status, m.SentAt, now,
		statusRank(m.Status))
	return err
}

// ApplyStatus advances a cached message's status. Unknown ids and
// stale (backwards) updates are ignored: the relay is the source of
// truth and may reference messages this cache never stored.
func (db *DB) ApplyStatus(id, status string) error {
	_, err := db.Exec(`
		UPDATE local_messages SET status = ?
		WHERE id = ? AND (`+rankCase+`) < ?`,
		status, id, statusRank(status))
	return err
}

// GetMessage returns a cached message, or nil when absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	rows, err := db.Query(`
		SELECT id, peer_device_id, body, content_type, from_me, status, sent_at
		FROM local_messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var m Message
	if err := rows.Scan(&m.ID, &m.PeerDeviceID, &m.Body, &m.ContentType, &m.FromMe, &m.Status, &m.SentAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the most recent messages exchanged with a peer,
// oldest first.
func (db *DB) ListMessages(peerDeviceID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, peer_device_id, body, content_type, from_me, status, sent_at
		FROM local_messages
		WHERE peer_device_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?`, peerDeviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.PeerDeviceID, &m.Body, &m.ContentType, &m.FromMe, &m.Status, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order for display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListConversations summarizes per-peer history, most recent first.
// Unread counts inbound messages not yet marked read.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT m.peer_device_id,
			COALESCE(p.name, m.peer_device_id) AS peer_name,
			m.body, m.sent_at,
			(SELECT COUNT(*) FROM local_messages u
				WHERE u.peer_device_id = m.peer_device_id
				AND u.from_me = 0 AND u.status != 'read') AS unread
		FROM local_messages m
		LEFT JOIN peers p ON p.device_id = m.peer_device_id
		WHERE m.sent_at = (SELECT MAX(l.sent_at) FROM local_messages l WHERE l.peer_device_id = m.peer_device_id)
		GROUP BY m.peer_device_id
		ORDER BY m.sent_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.PeerDeviceID, &c.PeerName, &c.LastBody, &c.LastSentAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
