package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdellaert/fbw-installer/internal/util"
)

const (
	appDirName       = "fbw-installer"
	pluginsDirName   = "plugins"
	distFileName     = "dist.json"
	assetsDirName    = "assets"
	currentName      = "current"
	locksDirName     = ".locks"
	stagingDirPrefix = ".staging-"

	// CurrentVersion selects whatever version the current pointer references.
	CurrentVersion = "current"
)

// PluginsRoot returns the platform application-data directory for installed
// plugins: the user config directory, the application name, then "plugins".
func PluginsRoot() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(base, appDirName, pluginsDirName), nil
}

// Layout maps plugin ids and versions onto the on-disk tree:
//
//	{root}/{id}/dist.json
//	{root}/{id}/{version}/assets/{file}
//	{root}/{id}/current
type Layout struct {
	Root string
}

// PluginDir returns {root}/{id}.
func (l Layout) PluginDir(id string) (string, error) {
	if err := util.ValidatePathComponent(id); err != nil {
		return "", fmt.Errorf("%w: plugin id: %v", ErrInvalidPath, err)
	}
	return filepath.Join(l.Root, id), nil
}

// DistFilePath returns {root}/{id}/dist.json.
func (l Layout) DistFilePath(id string) (string, error) {
	dir, err := l.PluginDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, distFileName), nil
}

// CurrentPath returns {root}/{id}/current.
func (l Layout) CurrentPath(id string) (string, error) {
	dir, err := l.PluginDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, currentName), nil
}

// VersionDir returns {root}/{id}/{version}.
func (l Layout) VersionDir(id, version string) (string, error) {
	dir, err := l.PluginDir(id)
	if err != nil {
		return "", err
	}
	if version == CurrentVersion {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidPath, version)
	}
	if err := util.ValidatePathComponent(version); err != nil {
		return "", fmt.Errorf("%w: version: %v", ErrInvalidPath, err)
	}
	return filepath.Join(dir, version), nil
}

// LockPath returns the lock file guarding installs of id.
func (l Layout) LockPath(id string) (string, error) {
	if err := util.ValidatePathComponent(id); err != nil {
		return "", fmt.Errorf("%w: plugin id: %v", ErrInvalidPath, err)
	}
	return filepath.Join(l.Root, locksDirName, id+".lock"), nil
}

// AssetPath joins an asset file name below a version directory.
func AssetPath(versionDir, file string) (string, error) {
	if err := util.ValidateRelativePath(file); err != nil {
		return "", fmt.Errorf("%w: asset: %v", ErrInvalidPath, err)
	}
	return filepath.Join(versionDir, assetsDirName, filepath.FromSlash(file)), nil
}
