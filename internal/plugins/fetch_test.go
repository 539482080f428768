package plugins_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/pdellaert/fbw-installer/internal/plugins"
	"github.com/pdellaert/fbw-installer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPluginFromURL(t *testing.T) {
	key, verifier := testutil.NewSigningKey(t)
	server := testutil.NewDistributionServer(t)
	manifest := server.PublishRelease(t, testutil.Release{
		ID:         "acme",
		Version:    "1.0.0",
		Publishers: []models.Publisher{testutil.Publisher("acme", "https://cdn.example.com/acme")},
		Extra:      map[string][]byte{"nested/extra.json": []byte(`{"directives":[]}`)},
	}, key)

	im := plugins.NewInstallManager(t.TempDir(), plugins.NewFetcher(5*time.Second), verifier)

	// Trailing slashes on the base URL are ignored.
	payload, err := im.FetchPluginFromURL(context.Background(), server.URL+"/")
	require.NoError(t, err)

	assert.True(t, payload.Verified)
	assert.Equal(t, "acme", payload.ID())
	assert.Equal(t, "1.0.0", payload.Version())
	require.Len(t, payload.Assets, len(manifest.Assets))
	for i, asset := range manifest.Assets {
		assert.Equal(t, asset.File, payload.Assets[i].File, "assets keep manifest order")
	}
	assert.Equal(t, 1, server.Requests("/assets/nested/extra.json"))
}

func TestFetchPayloadLeavesVerificationToCaller(t *testing.T) {
	key, _ := testutil.NewSigningKey(t)
	server := testutil.NewDistributionServer(t)
	manifest := server.PublishRelease(t, testutil.Release{ID: "acme", Version: "1.0.0"}, key)

	payload, err := plugins.NewFetcher(0).FetchPayload(context.Background(), server.URL)
	require.NoError(t, err)
	assert.False(t, payload.Verified)

	served, err := json.Marshal(manifest)
	require.NoError(t, err)
	assert.Equal(t, string(served), string(payload.DistFile.Raw), "manifest bytes are kept as served")
}

func TestFetchPluginFromURLAssetFailure(t *testing.T) {
	server := testutil.NewDistributionServer(t)
	server.PublishRelease(t, testutil.Release{
		ID:      "acme",
		Version: "1.0.0",
		Extra:   map[string][]byte{"second.json": []byte(`{}`)},
	}, nil)
	server.FailAsset("second.json")

	im := plugins.NewInstallManager(t.TempDir(), plugins.NewFetcher(0), plugins.NewVerifier(nil))
	payload, err := im.FetchPluginFromURL(context.Background(), server.URL)

	require.Error(t, err)
	assert.Nil(t, payload, "no partial payload is returned")
	assert.True(t, errors.Is(err, plugins.ErrUnexpectedStatus))
	assert.Equal(t, 1, server.Requests("/assets/config.json"))
}

func TestFetchManifestErrors(t *testing.T) {
	fetcher := plugins.NewFetcher(0)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		server := testutil.NewDistributionServer(t)
		_, err := fetcher.FetchManifest(ctx, server.URL)
		assert.ErrorIs(t, err, plugins.ErrUnexpectedStatus)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer server.Close()
		_, err := fetcher.FetchManifest(ctx, server.URL)
		assert.Error(t, err)
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := fetcher.FetchManifest(ctx, "  ")
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()
		_, err := fetcher.FetchManifest(ctx, url)
		assert.Error(t, err)
	})
}

func TestFetchAssetRejectsEscapingPaths(t *testing.T) {
	fetcher := plugins.NewFetcher(0)
	manifest := &models.PluginDistributionFile{OriginURL: "http://127.0.0.1:1"}

	for _, file := range []string{"../secret", "/etc/passwd", `..\win`, ""} {
		_, err := fetcher.FetchAsset(context.Background(), manifest, models.PluginAsset{File: file})
		assert.ErrorIs(t, err, plugins.ErrInvalidPath, file)
	}
}
