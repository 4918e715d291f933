package addon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"

	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/repository"
)

// StartHousekeeping schedules the background jobs named in SPEC_FULL's
// DOMAIN STACK section: hourly orphan-checking for add-on directories
// whose enabled setting no longer has a matching manifest.json, and a
// periodic log of catalog size. It returns the running cron.Cron so
// Bootstrap can Stop it on shutdown.
func (m *Manager) StartHousekeeping(ctx context.Context) *cron.Cron {
	c := cron.New()

	_, err := c.AddFunc("@hourly", func() { m.checkOrphans(ctx) })
	if err != nil {
		logger.Addon().Error().Err(err).Msg("schedule orphan check")
	}

	_, err = c.AddFunc("@every 5m", func() { m.logCatalogSize() })
	if err != nil {
		logger.Addon().Error().Err(err).Msg("schedule catalog size log")
	}

	c.Start()
	return c
}

// checkOrphans walks the add-ons directory looking for entries whose
// manifest.json is missing despite still having an enabled=true
// setting, and logs them for operator attention.
func (m *Manager) checkOrphans(ctx context.Context) {
	entries, err := os.ReadDir(m.paths.Addons)
	if err != nil {
		logger.Addon().Warn().Err(err).Msg("orphan check: read add-ons directory")
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		manifestPath := filepath.Join(m.paths.Addons, id, "manifest.json")
		if _, err := os.Stat(manifestPath); err == nil {
			continue
		}

		value, found, err := m.repo.GetSetting(ctx, repository.AddonSettingKey(id, "enabled"))
		if err != nil || !found || value != "true" {
			continue
		}
		logger.Addon().Warn().Str("id", id).Msg("orphaned add-on directory: no manifest.json, but still enabled")
	}
}

func (m *Manager) logCatalogSize() {
	devices := m.GetDevices()
	logger.Addon().Info().Int("devices", len(devices)).Msg("catalog size")
}
