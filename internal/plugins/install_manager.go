package plugins

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

// InstallHistory records successful installs. Implemented by store.Store.
type InstallHistory interface {
	RecordInstall(pluginID, version, originURL string, verified bool, digest string) error
	DeleteInstallRecord(pluginID string) error
}

// EventSink receives plugin lifecycle events. Implemented by websocket.Hub.
type EventSink interface {
	BroadcastJSON(v interface{})
}

// InstallManager installs, lists and removes plugins below a plugins root.
type InstallManager struct {
	layout           Layout
	fetcher          *Fetcher
	verifier         *Verifier
	history          InstallHistory
	events           EventSink
	requireSignature bool

	locks   *idLocks
	updates singleflight.Group
}

// Option configures an InstallManager.
type Option func(*InstallManager)

// WithHistory records every successful install in h.
func WithHistory(h InstallHistory) Option {
	return func(im *InstallManager) { im.history = h }
}

// WithEvents broadcasts lifecycle events to sink.
func WithEvents(sink EventSink) Option {
	return func(im *InstallManager) { im.events = sink }
}

// WithRequireSignature makes installs of unverified payloads fail.
func WithRequireSignature(require bool) Option {
	return func(im *InstallManager) { im.requireSignature = require }
}

// NewInstallManager creates an install manager rooted at root.
func NewInstallManager(root string, fetcher *Fetcher, verifier *Verifier, opts ...Option) *InstallManager {
	layout := Layout{Root: root}
	im := &InstallManager{
		layout:   layout,
		fetcher:  fetcher,
		verifier: verifier,
		locks:    newIDLocks(layout),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Root returns the plugins root directory.
func (im *InstallManager) Root() string {
	return im.layout.Root
}

// Install runs the full install pipeline for the plugin served at url.
// Failures are logged with their stage; callers re-query state to learn
// the outcome.
func (im *InstallManager) Install(ctx context.Context, url string) {
	_, _ = im.InstallWithResult(ctx, url)
}

// InstallWithResult is Install returning the installed payload, or a
// *StageError naming the step that failed.
func (im *InstallManager) InstallWithResult(ctx context.Context, url string) (*models.PluginPayload, error) {
	payload, err := im.FetchPluginFromURL(ctx, url)
	if err != nil {
		return nil, im.fail("", StageFetch, err)
	}
	if im.requireSignature && !payload.Verified {
		return nil, im.fail(payload.ID(), StageVerify, ErrUnverified)
	}

	var stageErr *StageError
	err = im.locks.withLock(payload.ID(), func() error {
		stageErr = im.installLocked(payload)
		return nil
	})
	if err != nil {
		return nil, im.fail(payload.ID(), StageStage, err)
	}
	if stageErr != nil {
		return nil, im.fail(stageErr.PluginID, stageErr.Stage, stageErr.Cause)
	}

	log.Printf("Plugin %s installed (verified=%t)", payload, payload.Verified)
	im.recordInstall(payload)
	im.broadcast(models.PluginEvent{
		Type:     models.EventPluginInstalled,
		PluginID: payload.ID(),
		Version:  payload.Version(),
		Verified: payload.Verified,
	})
	return payload, nil
}

func (im *InstallManager) installLocked(payload *models.PluginPayload) *StageError {
	id := payload.ID()
	stageErr := func(stage string, err error) *StageError {
		return &StageError{PluginID: id, Stage: stage, Cause: err}
	}

	pluginDir, err := im.layout.PluginDir(id)
	if err != nil {
		return stageErr(StageStage, err)
	}
	versionDir, err := im.layout.VersionDir(id, payload.Version())
	if err != nil {
		return stageErr(StageStage, err)
	}

	if err := stageVersion(pluginDir, versionDir, payload.Assets); err != nil {
		return stageErr(StageStage, err)
	}

	distPath, _ := im.layout.DistFilePath(id)
	manifest := []byte(payload.DistFile.Raw)
	if len(manifest) == 0 {
		manifest, err = json.MarshalIndent(payload.DistFile, "", "  ")
		if err != nil {
			return stageErr(StageWriteManifest, err)
		}
	}
	if err := writeFileAtomic(distPath, manifest); err != nil {
		return stageErr(StageWriteManifest, err)
	}

	currentPath, _ := im.layout.CurrentPath(id)
	if err := activate(currentPath, filepath.Base(versionDir)); err != nil {
		return stageErr(StageActivate, err)
	}
	return nil
}

// stageVersion writes assets into versionDir. The files are written to a
// hidden staging directory first and renamed into place, so versionDir
// only ever appears complete. An existing versionDir is reused when it
// holds the same bytes.
func stageVersion(pluginDir, versionDir string, assets []models.PluginAssetPayload) error {
	if _, err := os.Stat(versionDir); err == nil {
		same, err := sameAssets(versionDir, assets)
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("%w: %s", ErrVersionConflict, versionDir)
		}
		log.Printf("Reusing existing version directory %s", versionDir)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}
	stagingDir, err := os.MkdirTemp(pluginDir, stagingDirPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := writeAssets(stagingDir, assets); err != nil {
		os.RemoveAll(stagingDir)
		return err
	}
	if err := os.Rename(stagingDir, versionDir); err != nil {
		os.RemoveAll(stagingDir)
		return fmt.Errorf("failed to move staged version into place: %w", err)
	}
	return nil
}

func writeAssets(dir string, assets []models.PluginAssetPayload) error {
	for _, asset := range assets {
		path, err := AssetPath(dir, asset.File)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create asset directory: %w", err)
		}
		if err := os.WriteFile(path, asset.Buffer, 0644); err != nil {
			return fmt.Errorf("failed to write asset %s: %w", asset.File, err)
		}
	}
	return nil
}

func sameAssets(versionDir string, assets []models.PluginAssetPayload) (bool, error) {
	for _, asset := range assets {
		path, err := AssetPath(versionDir, asset.File)
		if err != nil {
			return false, err
		}
		existing, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !bytes.Equal(existing, asset.Buffer) {
			return false, nil
		}
	}
	return true, nil
}

// writeFileAtomic replaces path with data through a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (im *InstallManager) fail(id, stage string, err error) *StageError {
	log.Printf("Plugin install failed at stage %s (plugin %q): %v", stage, id, err)
	im.broadcast(models.PluginEvent{
		Type:     models.EventPluginInstallFailed,
		PluginID: id,
		Stage:    stage,
		Message:  err.Error(),
	})
	return &StageError{PluginID: id, Stage: stage, Cause: err}
}

func (im *InstallManager) recordInstall(payload *models.PluginPayload) {
	if im.history == nil {
		return
	}
	digest := PayloadDigest(payload)
	if err := im.history.RecordInstall(payload.ID(), payload.Version(), payload.DistFile.OriginURL, payload.Verified, digest); err != nil {
		log.Printf("Failed to record install of %s: %v", payload, err)
	}
}

func (im *InstallManager) broadcast(event models.PluginEvent) {
	if im.events != nil {
		im.events.BroadcastJSON(event)
	}
}

// PayloadDigest is a BLAKE3 digest over the asset names and contents of a
// payload, in manifest order.
func PayloadDigest(payload *models.PluginPayload) string {
	h := blake3.New()
	var size [8]byte
	for _, asset := range payload.Assets {
		binary.BigEndian.PutUint64(size[:], uint64(len(asset.File)))
		h.Write(size[:])
		h.Write([]byte(asset.File))
		binary.BigEndian.PutUint64(size[:], uint64(len(asset.Buffer)))
		h.Write(size[:])
		h.Write(asset.Buffer)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Delete removes every installed version of id. Failures are logged.
func (im *InstallManager) Delete(id string) {
	err := im.locks.withLock(id, func() error {
		pluginDir, err := im.layout.PluginDir(id)
		if err != nil {
			return err
		}
		return os.RemoveAll(pluginDir)
	})
	if err != nil {
		log.Printf("Plugin delete failed at stage %s (plugin %q): %v", StageDelete, id, err)
		return
	}

	if im.history != nil {
		if err := im.history.DeleteInstallRecord(id); err != nil {
			log.Printf("Failed to remove install record of %s: %v", id, err)
		}
	}
	log.Printf("Plugin %s deleted", id)
	im.broadcast(models.PluginEvent{Type: models.EventPluginDeleted, PluginID: id})
}

// pluginIDs returns the plugin directories below the root. Hidden entries
// and a missing root yield nothing.
func (im *InstallManager) pluginIDs() ([]string, error) {
	entries, err := os.ReadDir(im.layout.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}

// ListInstalled loads the current version of every installed plugin,
// asset buffers included. Plugin directories without a current pointer
// are skipped.
func (im *InstallManager) ListInstalled() ([]*models.PluginPayload, error) {
	ids, err := im.pluginIDs()
	if err != nil {
		return nil, err
	}

	payloads := make([]*models.PluginPayload, 0, len(ids))
	for _, id := range ids {
		payload, err := im.LoadPluginFromPath(id, CurrentVersion)
		if errors.Is(err, ErrNoCurrentVersion) {
			log.Printf("Skipping plugin directory %s: no current version", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load plugin %s: %w", id, err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// ListManifestsOnly reads the dist.json of every installed plugin without
// touching asset files.
func (im *InstallManager) ListManifestsOnly() ([]models.PluginDistributionFile, error) {
	ids, err := im.pluginIDs()
	if err != nil {
		return nil, err
	}

	manifests := make([]models.PluginDistributionFile, 0, len(ids))
	for _, id := range ids {
		manifest, err := im.readManifest(id)
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Skipping plugin directory %s: no %s", id, distFileName)
			continue
		}
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, *manifest)
	}
	return manifests, nil
}

func (im *InstallManager) readManifest(id string) (*models.PluginDistributionFile, error) {
	distPath, err := im.layout.DistFilePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(distPath)
	if err != nil {
		return nil, err
	}

	manifest, err := models.ParseDistributionFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", distPath, err)
	}
	return manifest, nil
}

// CheckForUpdates re-fetches the manifest of every installed plugin from
// its origin and returns the remote manifests whose version is strictly
// greater than the installed one. Any fetch failure fails the whole
// check. Concurrent callers share one check, which keeps running when
// the caller that started it gives up.
func (im *InstallManager) CheckForUpdates(ctx context.Context) ([]models.PluginDistributionFile, error) {
	ch := im.updates.DoChan("check", func() (interface{}, error) {
		return im.checkForUpdates(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.PluginDistributionFile), nil
	}
}

func (im *InstallManager) checkForUpdates(ctx context.Context) ([]models.PluginDistributionFile, error) {
	installed, err := im.ListManifestsOnly()
	if err != nil {
		return nil, err
	}

	updates := make([]models.PluginDistributionFile, 0)
	for _, local := range installed {
		remote, err := im.fetcher.FetchManifest(ctx, local.OriginURL)
		if err != nil {
			return nil, fmt.Errorf("update check for %s: %w", local.Metadata.ID, err)
		}

		newer, err := IsNewerVersion(local.Metadata.Version, remote.Metadata.Version)
		if err != nil {
			return nil, fmt.Errorf("update check for %s: %w", local.Metadata.ID, err)
		}
		if newer {
			log.Printf("Update available for %s: %s -> %s", local.Metadata.ID, local.Metadata.Version, remote.Metadata.Version)
			updates = append(updates, *remote)
		}
	}
	return updates, nil
}

// FetchPluginFromURL downloads the manifest at url and then each listed
// asset in order, and returns the verified payload. No payload is
// returned unless every asset was fetched.
func (im *InstallManager) FetchPluginFromURL(ctx context.Context, url string) (*models.PluginPayload, error) {
	payload, err := im.fetcher.FetchPayload(ctx, url)
	if err != nil {
		return nil, err
	}
	return im.verifier.Verify(payload), nil
}

// LoadPluginFromPath assembles the payload of an installed plugin from
// disk. An empty version or CurrentVersion selects the active version.
func (im *InstallManager) LoadPluginFromPath(id, version string) (*models.PluginPayload, error) {
	if version == "" || version == CurrentVersion {
		current, err := im.CurrentVersion(id)
		if err != nil {
			return nil, err
		}
		version = current
	}

	versionDir, err := im.layout.VersionDir(id, version)
	if err != nil {
		return nil, err
	}
	manifest, err := im.readManifest(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest of %s: %w", id, err)
	}

	assets := make([]models.PluginAssetPayload, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		path, err := AssetPath(versionDir, asset.File)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset %s of %s: %w", asset.File, id, err)
		}
		assets = append(assets, models.PluginAssetPayload{PluginAsset: asset, Buffer: data})
	}

	payload := &models.PluginPayload{DistFile: *manifest, Assets: assets}
	return im.verifier.Verify(payload), nil
}

// CurrentVersion returns the version the current pointer of id selects.
func (im *InstallManager) CurrentVersion(id string) (string, error) {
	currentPath, err := im.layout.CurrentPath(id)
	if err != nil {
		return "", err
	}
	return resolveCurrent(currentPath)
}

// InstalledVersions lists the version directories of id in ascending
// version order.
func (im *InstallManager) InstalledVersions(id string) ([]string, error) {
	pluginDir, err := im.layout.PluginDir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(pluginDir)
	if err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == currentName || strings.HasPrefix(name, ".") {
			continue
		}
		versions = append(versions, name)
	}
	SortVersions(versions)
	return versions, nil
}
