package store

import (
	"database/sql"
	"fmt"
)

// CreatePairingSession inserts a new pending session.
func (db *DB) CreatePairingSession(s *PairingSession) error {
	_, err := db.Exec(`
		INSERT INTO pairing_sessions (id, terminal_device_id, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.TerminalDeviceID, s.Status, s.CreatedAt, s.ExpiresAt)
	return err
}

// GetPairingSession returns a session by id, or nil if unknown.
func (db *DB) GetPairingSession(id string) (*PairingSession, error) {
	var s PairingSession
	var mobile sql.NullString
	var completed sql.NullInt64
	err := db.QueryRow(`
		SELECT id, terminal_device_id, mobile_device_id, status, created_at, expires_at, completed_at
		FROM pairing_sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.TerminalDeviceID, &mobile, &s.Status, &s.CreatedAt, &s.ExpiresAt, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.MobileDeviceID = mobile.String
	s.CompletedAt = completed.Int64
	return &s, nil
}

// MarkSessionScanned transitions pending → scanned. Returns false if the
// session was not in pending state.
func (db *DB) MarkSessionScanned(id string) (bool, error) {
	return db.casSession(`
		UPDATE pairing_sessions SET status = ?
		WHERE id = ? AND status = ?`,
		SessionScanned, id, SessionPending)
}

// ExpireSession transitions a non-terminal session to expired. Returns
// false if the session was already terminal.
func (db *DB) ExpireSession(id string) (bool, error) {
	return db.casSession(`
		UPDATE pairing_sessions SET status = ?
		WHERE id = ? AND status IN (?, ?)`,
		SessionExpired, id, SessionPending, SessionScanned)
}

// CompletePairing performs the completion write set in one transaction:
// a compare-and-set on the session row (the only caller whose update hits
// a non-terminal row wins), the mobile device's key, and the pairing row.
// Returns false without side effects if the session was already terminal.
func (db *DB) CompletePairing(sessionID, mobileDeviceID, key string, now int64) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE pairing_sessions
		SET status = ?, mobile_device_id = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		SessionCompleted, mobileDeviceID, now, sessionID, SessionPending, SessionScanned)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(`UPDATE devices SET sym_key = ? WHERE id = ?`, key, mobileDeviceID); err != nil {
		return false, err
	}

	var terminalID string
	if err := tx.QueryRow(`SELECT terminal_device_id FROM pairing_sessions WHERE id = ?`, sessionID).Scan(&terminalID); err != nil {
		return false, err
	}

	// Re-pairing the same pair reactivates instead of duplicating.
	if _, err := tx.Exec(`
		INSERT INTO device_pairings (mobile_device_id, terminal_device_id, paired_at, active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(mobile_device_id, terminal_device_id) DO UPDATE SET
			paired_at = excluded.paired_at,
			active = 1`,
		mobileDeviceID, terminalID, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// GetPairing returns a pairing row, or nil if the pair was never linked.
func (db *DB) GetPairing(mobileDeviceID, terminalDeviceID string) (*DevicePairing, error) {
	var p DevicePairing
	err := db.QueryRow(`
		SELECT mobile_device_id, terminal_device_id, paired_at, active
		FROM device_pairings
		WHERE mobile_device_id = ? AND terminal_device_id = ?`,
		mobileDeviceID, terminalDeviceID).
		Scan(&p.MobileDeviceID, &p.TerminalDeviceID, &p.PairedAt, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPairings returns all active pairings involving a device.
func (db *DB) ListPairings(deviceID string) ([]DevicePairing, error) {
	rows, err := db.Query(`
		SELECT mobile_device_id, terminal_device_id, paired_at, active
		FROM device_pairings
		WHERE active = 1 AND (mobile_device_id = ? OR terminal_device_id = ?)
		ORDER BY paired_at`, deviceID, deviceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pairings []DevicePairing
	for rows.Next() {
		var p DevicePairing
		if err := rows.Scan(&p.MobileDeviceID, &p.TerminalDeviceID, &p.PairedAt, &p.Active); err != nil {
			return nil, err
		}
		pairings = append(pairings, p)
	}
	return pairings, rows.Err()
}

// DeactivatePairings soft-unpairs every active pairing involving a device.
// Returns the number of pairings deactivated.
func (db *DB) DeactivatePairings(deviceID string) (int64, error) {
	res, err := db.Exec(`
		UPDATE device_pairings SET active = 0
		WHERE active = 1 AND (mobile_device_id = ? OR terminal_device_id = ?)`,
		deviceID, deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) casSession(query string, args ...any) (bool, error) {
	res, err := db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
