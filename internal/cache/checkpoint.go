package cache

import "time"

// streamCheckpoint names the single cursor row tracking event stream progress.
const streamCheckpoint = "stream"

// SetCursor persists the id of the last event applied from the stream.
func (db *DB) SetCursor(cursor string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO checkpoints (name, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at`,
		streamCheckpoint, cursor, now)
	return err
}

// Cursor returns the persisted stream cursor, or "" when none was saved.
func (db *DB) Cursor() (string, error) {
	rows, err := db.Query(`SELECT cursor FROM checkpoints WHERE name = ?`, streamCheckpoint)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return "", rows.Err()
	}
	var cursor string
	if err := rows.Scan(&cursor); err != nil {
		return "", err
	}
	return cursor, nil
}
