package addon

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/webthingsio/gateway/internal/apperr"
	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/repository"
)

// InstallFromURL downloads the tarball at url, verifies it against
// sha256Hex, extracts its package/ subtree atomically into
// <addons-dir>/<id>, optionally sets the enabled flag, and finally
// loads the add-on (spec.md §4.4).
func (m *Manager) InstallFromURL(ctx context.Context, id, url, sha256Hex string, enableAfter bool) error {
	tmpFile, err := download(ctx, url)
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	if err := verifyChecksum(tmpFile, sha256Hex); err != nil {
		return err
	}

	stagingDir, err := os.MkdirTemp("", "addon-install-*")
	if err != nil {
		return apperr.Storage(err, "create staging directory")
	}
	defer os.RemoveAll(stagingDir)

	if err := extractTarGz(tmpFile, stagingDir); err != nil {
		return err
	}

	destDir := m.paths.AddonDir(id)

	// Uninstall any prior version first, preserving the user's enabled
	// setting (disable=false means "don't touch the enabled flag").
	if _, err := os.Stat(destDir); err == nil {
		if err := m.uninstallPreservingEnabled(ctx, id); err != nil {
			return err
		}
	}

	packageDir := filepath.Join(stagingDir, "package")
	if err := os.Rename(packageDir, destDir); err != nil {
		return apperr.IntegrityFailure(err, "move package into %s", destDir)
	}

	if enableAfter {
		if err := m.repo.SetSetting(ctx, repository.AddonSettingKey(id, "enabled"), "true"); err != nil {
			return err
		}
	}

	return m.LoadOne(ctx, destDir)
}

// uninstallPreservingEnabled removes id's directory and record without
// clearing its enabled setting, the "disable=false" variant of
// Uninstall used by the installer to preserve the user's prior choice
// across an upgrade.
func (m *Manager) uninstallPreservingEnabled(ctx context.Context, id string) error {
	if err := m.super.Stop(id); err != nil && !apperr.Is(err, apperr.CodeAlreadyInState) {
		logger.Addon().Warn().Err(err).Str("id", id).Msg("stop during upgrade failed")
	}
	destDir := m.paths.AddonDir(id)
	if err := os.RemoveAll(destDir); err != nil {
		return apperr.Storage(err, "remove prior add-on directory %s", destDir)
	}
	m.do(func() {
		delete(m.records, id)
	})
	return nil
}

func download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.Transport(err, "build download request for %s", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", apperr.Transport(err, "download %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Transport(nil, "download %s: status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "addon-download-*.tar.gz")
	if err != nil {
		return "", apperr.Storage(err, "create temp file for download")
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", apperr.Transport(err, "write downloaded bytes")
	}
	return tmp.Name(), nil
}

func verifyChecksum(path, expectedHex string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperr.Storage(err, "open downloaded file")
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return apperr.Storage(err, "hash downloaded file")
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expectedHex) {
		return apperr.IntegrityFailure(nil, "checksum mismatch: expected %s, got %s", expectedHex, actual)
	}
	return nil
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apperr.Storage(err, "open archive")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return apperr.IntegrityFailure(err, "open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperr.IntegrityFailure(err, "read tar entry")
		}

		target := filepath.Join(destDir, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return apperr.IntegrityFailure(nil, "tar entry %s escapes destination", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperr.Storage(err, "create directory %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return apperr.Storage(err, "create parent directory for %s", target)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return apperr.Storage(err, "create file %s", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return apperr.Storage(err, "write file %s", target)
			}
			out.Close()
		}
	}
}
