package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/pdellaert/fbw-installer/internal/util"
)

// Fetcher downloads plugin manifests and assets over HTTP.
//
// Wire format:
//
//	GET {baseUrl}/dist.json       -> manifest JSON
//	GET {originUrl}/assets/{file} -> raw asset bytes
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. A zero timeout leaves the transport defaults in place.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewFetcherWithClient creates a fetcher around an existing client.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// FetchManifest retrieves and parses {baseURL}/dist.json.
func (f *Fetcher) FetchManifest(ctx context.Context, baseURL string) (*models.PluginDistributionFile, error) {
	manifestURL, err := joinURL(baseURL, distFileName)
	if err != nil {
		return nil, err
	}

	data, err := f.download(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plugin dist file: %w", err)
	}

	manifest, err := models.ParseDistributionFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plugin dist file: %w", err)
	}

	return manifest, nil
}

// FetchPayload fetches the manifest at baseURL and then each listed asset
// in order. No payload is returned unless every asset was fetched. The
// payload is not verified.
func (f *Fetcher) FetchPayload(ctx context.Context, baseURL string) (*models.PluginPayload, error) {
	manifest, err := f.FetchManifest(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	assets := make([]models.PluginAssetPayload, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		data, err := f.FetchAsset(ctx, manifest, asset)
		if err != nil {
			return nil, err
		}
		assets = append(assets, models.PluginAssetPayload{PluginAsset: asset, Buffer: data})
	}
	return &models.PluginPayload{DistFile: *manifest, Assets: assets}, nil
}

// FetchAsset retrieves {manifest.OriginURL}/assets/{asset.File}.
func (f *Fetcher) FetchAsset(ctx context.Context, manifest *models.PluginDistributionFile, asset models.PluginAsset) ([]byte, error) {
	if err := util.ValidateRelativePath(asset.File); err != nil {
		return nil, fmt.Errorf("%w: asset: %v", ErrInvalidPath, err)
	}

	assetURL, err := joinURL(manifest.OriginURL, assetsDirName, asset.File)
	if err != nil {
		return nil, err
	}

	data, err := f.download(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plugin asset %s: %w", asset.File, err)
	}
	return data, nil
}

// download performs a single GET; it never retries.
func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func joinURL(base string, elem ...string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", fmt.Errorf("plugin url is required")
	}
	joined, err := url.JoinPath(base, elem...)
	if err != nil {
		return "", fmt.Errorf("invalid plugin url %q: %w", base, err)
	}
	return joined, nil
}
