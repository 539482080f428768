package plugins

import (
	"context"

	"github.com/pdellaert/fbw-installer/internal/models"
)

// Installer defines the install manager operations used by the HTTP
// boundary and the scheduled jobs. This allows for easier mocking in tests.
type Installer interface {
	Install(ctx context.Context, url string)
	InstallWithResult(ctx context.Context, url string) (*models.PluginPayload, error)
	Delete(id string)
	ListInstalled() ([]*models.PluginPayload, error)
	ListManifestsOnly() ([]models.PluginDistributionFile, error)
	CheckForUpdates(ctx context.Context) ([]models.PluginDistributionFile, error)
	FetchPluginFromURL(ctx context.Context, url string) (*models.PluginPayload, error)
	LoadPluginFromPath(id, version string) (*models.PluginPayload, error)
	CurrentVersion(id string) (string, error)
	InstalledVersions(id string) ([]string, error)
	Root() string
}

// Ensure InstallManager implements Installer
var _ Installer = (*InstallManager)(nil)
