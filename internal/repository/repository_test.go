package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/wire"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.sqlite3")
	repo, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateAndGetThing(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	thing, err := repo.CreateThing(ctx, wire.Device{ID: "d1", Title: "Lamp"})
	require.NoError(t, err)
	assert.True(t, thing.Connected)

	fetched, err := repo.GetThing(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "d1", fetched.ID)
	assert.Equal(t, "Lamp", fetched.Description.Title)
}

func TestGetThingMissingReturnsNilNoError(t *testing.T) {
	repo := openTestRepo(t)
	thing, err := repo.GetThing(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, thing)
}

func TestSanitizeDeviceStripsMarkup(t *testing.T) {
	repo := openTestRepo(t)
	thing, err := repo.CreateThing(context.Background(), wire.Device{
		ID:          "d2",
		Title:       "<script>alert(1)</script>Lamp",
		Description: "<b>bright</b>",
	})
	require.NoError(t, err)
	assert.NotContains(t, thing.Description.Title, "<script>")
	assert.NotContains(t, thing.Description.Description, "<b>")
}

func TestGetThingsListsAll(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateThing(ctx, wire.Device{ID: "a"})
	require.NoError(t, err)
	_, err = repo.CreateThing(ctx, wire.Device{ID: "b"})
	require.NoError(t, err)

	things, err := repo.GetThings(ctx)
	require.NoError(t, err)
	assert.Len(t, things, 2)
}

func TestSettingRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, found, err := repo.GetSetting(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SetSetting(ctx, "k", "v1"))
	value, found, err := repo.GetSetting(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", value)

	require.NoError(t, repo.SetSetting(ctx, "k", "v2"))
	value, _, err = repo.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
}

func TestSetSettingIfNotExistsDoesNotOverwrite(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSettingIfNotExists(ctx, "k", "first"))
	require.NoError(t, repo.SetSettingIfNotExists(ctx, "k", "second"))

	value, _, err := repo.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", value)
}

func TestAddonSettingKeyFormat(t *testing.T) {
	assert.Equal(t, "addons.foo.enabled", AddonSettingKey("foo", "enabled"))
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "u1", "a@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)
	assert.NotEqual(t, "hunter2", user.PasswordHash)

	authed, err := repo.Authenticate(ctx, "a@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "u1", authed.ID)

	_, err = repo.Authenticate(ctx, "a@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestGetUserByIDAndEmail(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateUser(ctx, "u2", "b@example.com", "pw")
	require.NoError(t, err)

	byID, err := repo.GetUserByID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", byID.Email)

	byEmail, err := repo.GetUserByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u2", byEmail.ID)

	_, err = repo.GetUserByEmail(ctx, "missing@example.com")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestEditAndDeleteUser(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateUser(ctx, "u3", "c@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, repo.EditUser(ctx, "u3", "new@example.com"))
	user, err := repo.GetUserByID(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)

	require.NoError(t, repo.DeleteUser(ctx, "u3"))
	_, err = repo.GetUserByID(ctx, "u3")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestDeleteUserCascadesToJWTs(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateUser(ctx, "u6", "f@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, repo.CreateJWT(ctx, "key-cascade", "u6", "pubkey-hex"))

	require.NoError(t, repo.DeleteUser(ctx, "u6"))

	records, err := repo.ListJWTsOfUser(ctx, "u6")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = repo.GetJWTPublicKey(ctx, "key-cascade")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestEditUnknownUserIsNotFound(t *testing.T) {
	repo := openTestRepo(t)
	err := repo.EditUser(context.Background(), "ghost", "x@example.com")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestCountUsers(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	n, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = repo.CreateUser(ctx, "u4", "d@example.com", "pw")
	require.NoError(t, err)
	n, err = repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJWTRecordRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreateUser(ctx, "u5", "e@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, repo.CreateJWT(ctx, "key1", "u5", "pubkey-hex"))

	pub, err := repo.GetJWTPublicKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "pubkey-hex", pub)

	_, err = repo.GetJWTPublicKey(ctx, "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	records, err := repo.ListJWTsOfUser(ctx, "u5")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "key1", records[0].KeyID)
}
