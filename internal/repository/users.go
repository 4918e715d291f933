package repository

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/webthingsio/gateway/internal/apperr"
)

// User is a persisted gateway account. PasswordHash holds the bcrypt
// hash, never the plaintext password.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser hashes password with bcrypt and persists a new user.
func (r *Repository) CreateUser(ctx context.Context, id, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Storage(err, "hash password for user %s", id)
	}

	user := &User{ID: id, Email: email, PasswordHash: string(hash), CreatedAt: time.Now()}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, apperr.Storage(err, "create user %s", id)
	}
	return user, nil
}

// GetUserByID returns the user with the given id, or NotFound.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

// GetUserByEmail returns the user with the given email, or NotFound.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (r *Repository) getUser(ctx context.Context, query, arg string) (*User, error) {
	var (
		user      User
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no user matching %s", arg)
	}
	if err != nil {
		return nil, apperr.Storage(err, "get user")
	}
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &user, nil
}

// EditUser updates an existing user's email only. There is no
// password-change operation; CreateUser is the only path that stores a
// password, and it stores the bcrypt hash.
func (r *Repository) EditUser(ctx context.Context, id, email string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET email = ? WHERE id = ?`, email, id)
	if err != nil {
		return apperr.Storage(err, "edit user %s", id)
	}
	return requireRowsAffected(res, id)
}

// DeleteUser removes the user and cascades to their JWTs via the
// foreign key's ON DELETE CASCADE.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage(err, "delete user %s", id)
	}
	return requireRowsAffected(res, id)
}

// CountUsers returns the number of persisted users.
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, apperr.Storage(err, "count users")
	}
	return count, nil
}

// Authenticate compares password against the stored hash for email,
// returning the user on success.
func (r *Repository) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.NotFound("credentials do not match any user")
	}
	return user, nil
}

func requireRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(err, "check rows affected")
	}
	if n == 0 {
		return apperr.NotFound("no user with id %s", id)
	}
	return nil
}
