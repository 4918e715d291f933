// Package auth is the minimal external authentication surface spec.md
// §1 names as an out-of-core-scope collaborator: JWT issuance and
// verification backed by the Repository's user/JWT tables. Grounded on
// the teacher's internal/auth/jwt.go token lifecycle (HMAC-SHA256
// signing, registered claims, issuer/expiry), trimmed of the SSO/MFA
// surface that has no SPEC_FULL component to bind to.
package auth

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/repository"
)

const (
	issuer        = "webthings-gateway"
	tokenDuration = 24 * time.Hour
)

// Claims is the JWT payload: just enough to identify the user and
// satisfy the registered claim set.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Manager issues and verifies bearer tokens against the Repository's
// users and jwts tables.
type Manager struct {
	repo      *repository.Cache
	secretKey []byte
}

// NewManager builds a Manager signing with secretKey, which must be
// cryptographically random and at least 32 bytes.
func NewManager(repo *repository.Cache, secretKey []byte) *Manager {
	return &Manager{repo: repo, secretKey: secretKey}
}

// Issue authenticates email/password against the Repository, then signs
// and returns a bearer token for that user, recording its key id.
func (m *Manager) Issue(ctx context.Context, email, password string) (string, error) {
	user, err := m.repo.Authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}

	keyID := uuid.New().String()

	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", apperr.Storage(err, "sign jwt")
	}

	if err := m.repo.CreateJWT(ctx, keyID, user.ID, hex.EncodeToString(m.secretKey)); err != nil {
		return "", err
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Protocol("unexpected signing method %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, apperr.Protocol("invalid token: %v", err)
	}
	return claims, nil
}
