// Package repository is the Repository described in spec.md §4.1: the
// gateway's only persistence boundary, backed by SQLite. It owns four
// tables — things, settings, users, jwts — and sanitizes untrusted
// free-text fields before they reach disk.
//
// Schema grounded on _examples/original_source/src/db.rs (things,
// settings) and _examples/original_source/src/db2.rs (db path
// convention); users/jwts follow the teacher's internal/db/users.go and
// internal/auth/jwt.go shape, retargeted from Postgres to SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	_ "modernc.org/sqlite"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/wire"
)

// Thing is a persisted device record the user has adopted, distinct
// from the ephemeral Catalog entry that shares its id.
type Thing struct {
	ID          string     `json:"-"`
	Description wire.Device `json:"description"`
	Connected   bool       `json:"connected"`
}

// Repository wraps the SQLite-backed *sql.DB and the sanitizer used on
// untrusted free-text device fields.
type Repository struct {
	db        *sql.DB
	sanitizer *bluemonday.Policy
}

// Open opens (creating if necessary) the SQLite database at path and
// runs the schema migration.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Storage(err, "open sqlite database at %s", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, matches the original's single Connection actor

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, apperr.Storage(err, "enable foreign keys on %s", path)
	}

	r := &Repository{db: db, sanitizer: bluemonday.StrictPolicy()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS things (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jwts (
			key_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			public_key TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return apperr.Storage(err, "run migration")
		}
	}
	logger.DB().Info().Msg("schema migrated")
	return nil
}

// sanitizeDevice strips any markup from the two free-text fields an
// add-on can set on a device description before it is ever persisted or
// rendered by a UI client.
func (r *Repository) sanitizeDevice(d wire.Device) wire.Device {
	d.Title = r.sanitizer.Sanitize(d.Title)
	d.Description = r.sanitizer.Sanitize(d.Description)
	return d
}

// GetThing returns the thing with the given id, or nil if none exists.
func (r *Repository) GetThing(ctx context.Context, id string) (*Thing, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, description FROM things WHERE id = ?`, id)
	return scanThing(row)
}

// GetThings returns every persisted thing.
func (r *Repository) GetThings(ctx context.Context) ([]Thing, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, description FROM things`)
	if err != nil {
		return nil, apperr.Storage(err, "query things")
	}
	defer rows.Close()

	var things []Thing
	for rows.Next() {
		var id, description string
		if err := rows.Scan(&id, &description); err != nil {
			return nil, apperr.Storage(err, "scan thing row")
		}
		thing, err := decodeThing(id, description)
		if err != nil {
			return nil, err
		}
		things = append(things, *thing)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate things")
	}
	return things, nil
}

// CreateThing persists a new thing from a device description, sets
// connected=true, and returns the stored record.
func (r *Repository) CreateThing(ctx context.Context, device wire.Device) (*Thing, error) {
	device = r.sanitizeDevice(device)
	thing := Thing{ID: device.ID, Description: device, Connected: true}

	payload, err := json.Marshal(thing)
	if err != nil {
		return nil, apperr.Storage(err, "marshal thing %s", device.ID)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO things (id, description) VALUES (?, ?)`, thing.ID, string(payload))
	if err != nil {
		return nil, apperr.Storage(err, "insert thing %s", device.ID)
	}
	return &thing, nil
}

func scanThing(row *sql.Row) (*Thing, error) {
	var id, description string
	if err := row.Scan(&id, &description); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Storage(err, "scan thing row")
	}
	return decodeThing(id, description)
}

func decodeThing(id, description string) (*Thing, error) {
	var thing Thing
	if err := json.Unmarshal([]byte(description), &thing); err != nil {
		return nil, apperr.Storage(err, "parse thing %s description", id)
	}
	thing.ID = id
	return &thing, nil
}

// GetSetting reads the raw string value stored under key, or ("", false)
// if absent.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage(err, "get setting %s", key)
	}
	return value, true, nil
}

// SetSetting upserts key to value, overwriting any existing value.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return apperr.Storage(err, "set setting %s", key)
	}
	return nil
}

// SetSettingIfNotExists writes key only if it has no current value.
func (r *Repository) SetSettingIfNotExists(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, value)
	if err != nil {
		return apperr.Storage(err, "set setting %s if absent", key)
	}
	return nil
}

// AddonSettingKey formats the dotted settings key used to store an
// add-on's enabled flag or config object, matching the original's
// addons.<id>.<field> convention.
func AddonSettingKey(addonID, field string) string {
	return fmt.Sprintf("addons.%s.%s", addonID, field)
}
