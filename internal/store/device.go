package store

import (
	"database/sql"
	"time"
)

// CreateDevice inserts a new device row.
func (db *DB) CreateDevice(d *Device) error {
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO devices (id, identity_id, role, name, sym_key, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, 0), ?)`,
		d.ID, d.IdentityID, d.Role, d.Name, d.Key, d.LastSeenAt, d.CreatedAt)
	return err
}

// GetDevice returns a device by id, or nil if unknown.
func (db *DB) GetDevice(id string) (*Device, error) {
	var d Device
	var key sql.NullString
	var lastSeen sql.NullInt64
	err := db.QueryRow(`
		SELECT id, identity_id, role, name, sym_key, last_seen_at, created_at
		FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.IdentityID, &d.Role, &d.Name, &key, &lastSeen, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Key = key.String
	d.LastSeenAt = lastSeen.Int64
	return &d, nil
}

// ListDevices returns all devices owned by an identity, oldest first.
func (db *DB) ListDevices(identityID string) ([]Device, error) {
	rows, err := db.Query(`
		SELECT id, identity_id, role, name, sym_key, last_seen_at, created_at
		FROM devices WHERE identity_id = ?
		ORDER BY created_at, id`, identityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var devices []Device
	for rows.Next() {
		var d Device
		var key sql.NullString
		var lastSeen sql.NullInt64
		if err := rows.Scan(&d.ID, &d.IdentityID, &d.Role, &d.Name, &key, &lastSeen, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Key = key.String
		d.LastSeenAt = lastSeen.Int64
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteDevice removes a device. Pairing sessions, pairings and messages
// referencing it go with it via foreign-key cascade.
func (db *DB) DeleteDevice(id string) (bool, error) {
	res, err := db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetDeviceKey stores a device's symmetric key.
func (db *DB) SetDeviceKey(id, key string) error {
	_, err := db.Exec(`UPDATE devices SET sym_key = ? WHERE id = ?`, key, id)
	return err
}

// TouchDevice updates a device's last-seen timestamp.
func (db *DB) TouchDevice(id string, at int64) error {
	_, err := db.Exec(`UPDATE devices SET last_seen_at = ? WHERE id = ?`, at, id)
	return err
}
