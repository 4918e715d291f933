package addon

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthingsio/gateway/internal/apperr"
)

func buildAddonTarGz(t *testing.T, id string) []byte {
	t.Helper()
	manifest := `{"id":"` + id + `","gateway_specific_settings":{"webthings":{"exec":"sleep 30"}}}`

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "package/manifest.json",
		Mode: 0o644,
		Size: int64(len(manifest)),
	}))
	_, err := tw.Write([]byte(manifest))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serveTarGz(t *testing.T, payload []byte) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestInstallFromURLVerifiesChecksumAndLoads(t *testing.T) {
	manager := newTestManager(t)
	payload := buildAddonTarGz(t, "fresh")
	url := serveTarGz(t, payload)

	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	require.NoError(t, manager.InstallFromURL(context.Background(), "fresh", url, checksum, false))

	record, err := manager.get("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", record.Manifest.ID)

	_, statErr := os.Stat(filepath.Join(manager.paths.AddonDir("fresh"), "manifest.json"))
	require.NoError(t, statErr)
}

func TestInstallFromURLRejectsChecksumMismatch(t *testing.T) {
	manager := newTestManager(t)
	payload := buildAddonTarGz(t, "bad-sum")
	url := serveTarGz(t, payload)

	zeroChecksum := hex.EncodeToString(make([]byte, sha256.Size))
	err := manager.InstallFromURL(context.Background(), "bad-sum", url, zeroChecksum, false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeIntegrityFailure))

	_, err = manager.get("bad-sum")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestInstallFromURLEnableAfterStartsProcess(t *testing.T) {
	manager := newTestManager(t)
	payload := buildAddonTarGz(t, "auto-enable")
	url := serveTarGz(t, payload)
	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	require.NoError(t, manager.InstallFromURL(context.Background(), "auto-enable", url, checksum, true))

	record, err := manager.get("auto-enable")
	require.NoError(t, err)
	assert.True(t, record.Enabled)
	assert.True(t, manager.super.IsRunning("auto-enable"))
}
