package addon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/webthingsio/gateway/internal/apperr"
)

// Manifest is the subset of manifest.json the gateway consumes (spec.md
// §4's "Manifest.json (consumed)"). Everything else in the file is
// passed through untouched by not being modeled here.
type Manifest struct {
	ID                     string `json:"id"`
	GatewaySpecificSettings struct {
		Webthings struct {
			Exec string `json:"exec"`
		} `json:"webthings"`
	} `json:"gateway_specific_settings"`
}

// ExecTemplate returns the add-on's spawn command template.
func (m Manifest) ExecTemplate() string {
	return m.GatewaySpecificSettings.Webthings.Exec
}

// readManifest parses <path>/manifest.json.
func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(path, "manifest.json"))
	if err != nil {
		return Manifest{}, apperr.IntegrityFailure(err, "read manifest at %s", path)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, apperr.IntegrityFailure(err, "parse manifest at %s", path)
	}
	if m.ID == "" {
		return Manifest{}, apperr.IntegrityFailure(nil, "manifest at %s has no id", path)
	}
	return m, nil
}
