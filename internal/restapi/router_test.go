package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthingsio/gateway/internal/addon"
	"github.com/webthingsio/gateway/internal/auth"
	"github.com/webthingsio/gateway/internal/config"
	"github.com/webthingsio/gateway/internal/repository"
	"github.com/webthingsio/gateway/internal/supervisor"
)

func newTestServer(t *testing.T) (*Server, *repository.Cache, *addon.Manager) {
	t.Helper()
	repo, err := repository.Open(filepath.Join(t.TempDir(), "gateway.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	cache := repository.WithCache(repo, repository.CacheConfig{})

	manager := addon.New(cache, supervisor.New(nil), config.Paths{Base: t.TempDir(), Addons: t.TempDir()})
	go manager.Run()

	authManager := auth.NewManager(cache, []byte("a-32-byte-test-signing-secret!!!"))

	server := NewServer(0, cache, manager, authManager)
	return server, cache, manager
}

func do(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListThings(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := do(t, server, http.MethodPost, "/things", map[string]any{"id": "d1", "title": "Lamp"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, server, http.MethodGet, "/things", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "d1")
}

func TestGetMissingThingIs404(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodGet, "/things/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnableUnknownAddonIs404(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodPost, "/addons/ghost/enable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodPost, "/login", map[string]string{"email": "nobody@example.com", "password": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginSucceedsForKnownUser(t *testing.T) {
	server, cache, _ := newTestServer(t)
	_, err := cache.CreateUser(context.Background(), "u1", "a@example.com", "hunter2")
	require.NoError(t, err)

	rec := do(t, server, http.MethodPost, "/login", map[string]string{"email": "a@example.com", "password": "hunter2"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token")
}

func TestListDevicesEmpty(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := do(t, server, http.MethodGet, "/addons", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}
