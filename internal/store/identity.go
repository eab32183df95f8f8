package store

import (
	"database/sql"
	"time"
)

// UpsertIdentity registers an identity with its opaque bearer token.
// Used by the daemon to seed identities from configuration.
func (db *DB) UpsertIdentity(id, token string) error {
	_, err := db.Exec(`
		INSERT INTO identities (id, token, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token`,
		id, token, time.Now().UnixMilli())
	return err
}

// ResolveToken returns the identity id for a bearer token, or "" if the
// token is unknown.
func (db *DB) ResolveToken(token string) (string, error) {
	var id string
	err := db.QueryRow(`SELECT id FROM identities WHERE token = ?`, token).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
