package cache

import "time"

// UpsertPeer records or refreshes a paired peer device and its shared key.
func (db *DB) UpsertPeer(p *Peer) error {
	pairedAt := p.PairedAt
	if pairedAt == 0 {
		pairedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO peers (device_id, name, sym_key, paired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name = excluded.name,
			sym_key = excluded.sym_key,
			paired_at = excluded.paired_at`,
		p.DeviceID, p.Name, p.SymKey, pairedAt)
	return err
}

// GetPeer returns a peer by device id, or nil when unknown.
func (db *DB) GetPeer(deviceID string) (*Peer, error) {
	rows, err := db.Query(`SELECT device_id, name, sym_key, paired_at FROM peers WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var p Peer
	if err := rows.Scan(&p.DeviceID, &p.Name, &p.SymKey, &p.PairedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPeers returns all known peers, most recently paired first.
func (db *DB) ListPeers() ([]Peer, error) {
	rows, err := db.Query(`SELECT device_id, name, sym_key, paired_at FROM peers ORDER BY paired_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var peers []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.DeviceID, &p.Name, &p.SymKey, &p.PairedAt); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// DeletePeer removes a peer after an unpair.
func (db *DB) DeletePeer(deviceID string) error {
	_, err := db.Exec(`DELETE FROM peers WHERE device_id = ?`, deviceID)
	return err
}
