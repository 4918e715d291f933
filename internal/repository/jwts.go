package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/webthingsio/gateway/internal/apperr"
)

// JWTRecord is a stored public key associated with an issued token,
// keyed by the token's key id so it can be looked up for verification
// without re-deriving it from the signing secret.
type JWTRecord struct {
	KeyID     string
	UserID    string
	PublicKey string
	CreatedAt time.Time
}

// CreateJWT persists the public key for a newly issued token.
func (r *Repository) CreateJWT(ctx context.Context, keyID, userID, publicKeyPEM string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jwts (key_id, user_id, public_key, created_at) VALUES (?, ?, ?, ?)`,
		keyID, userID, publicKeyPEM, time.Now().Format(time.RFC3339))
	if err != nil {
		return apperr.Storage(err, "create jwt record %s", keyID)
	}
	return nil
}

// GetJWTPublicKey returns the public key stored under keyID, or NotFound.
func (r *Repository) GetJWTPublicKey(ctx context.Context, keyID string) (string, error) {
	var publicKey string
	err := r.db.QueryRowContext(ctx, `SELECT public_key FROM jwts WHERE key_id = ?`, keyID).Scan(&publicKey)
	if err == sql.ErrNoRows {
		return "", apperr.NotFound("no jwt with key id %s", keyID)
	}
	if err != nil {
		return "", apperr.Storage(err, "get jwt public key %s", keyID)
	}
	return publicKey, nil
}

// ListJWTsOfUser returns every JWT record issued for userID.
func (r *Repository) ListJWTsOfUser(ctx context.Context, userID string) ([]JWTRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key_id, user_id, public_key, created_at FROM jwts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, apperr.Storage(err, "list jwts of user %s", userID)
	}
	defer rows.Close()

	var records []JWTRecord
	for rows.Next() {
		var rec JWTRecord
		var createdAt string
		if err := rows.Scan(&rec.KeyID, &rec.UserID, &rec.PublicKey, &createdAt); err != nil {
			return nil, apperr.Storage(err, "scan jwt row")
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate jwts")
	}
	return records, nil
}
