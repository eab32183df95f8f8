package cache

import "time"

// QueueReceipt adds a delivery or read acknowledgement to the upload queue.
// Re-queueing the same (message, status) pair is a no-op.
func (db *DB) QueueReceipt(messageID, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO receipts (message_id, status, state, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?)
		ON CONFLICT(message_id, status) DO NOTHING`,
		messageID, status, now, now)
	return err
}

// MarkReceiptSending updates a receipt to 'sending' state.
func (db *DB) MarkReceiptSending(messageID, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE receipts SET state = 'sending', updated_at = ? WHERE message_id = ? AND status = ?`, now, messageID, status)
	return err
}

// MarkReceiptSent updates a receipt to 'sent' state.
func (db *DB) MarkReceiptSent(messageID, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE receipts SET state = 'sent', updated_at = ? WHERE message_id = ? AND status = ?`, now, messageID, status)
	return err
}

// MarkReceiptFailed returns a receipt to 'failed' with an error message.
// Failed receipts are retried on the next drain.
func (db *DB) MarkReceiptFailed(messageID, status, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE receipts SET state = 'failed', error_message = ?, updated_at = ? WHERE message_id = ? AND status = ?`, errMsg, now, messageID, status)
	return err
}

// PendingReceipts returns receipts awaiting upload, oldest first.
// Failed entries are included so transient relay errors get retried.
func (db *DB) PendingReceipts() ([]Receipt, error) {
	rows, err := db.Query(`
		SELECT message_id, status, state, COALESCE(error_message, '')
		FROM receipts WHERE state IN ('queued', 'failed') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.MessageID, &r.Status, &r.State, &r.ErrorMessage); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
