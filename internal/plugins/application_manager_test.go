package plugins_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pdellaert/fbw-installer/internal/configuration"
	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/pdellaert/fbw-installer/internal/plugins"
	"github.com/pdellaert/fbw-installer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadWithAssets(verified bool, assets ...models.PluginAssetPayload) *models.PluginPayload {
	return pluginPayload("acme", "1.0.0", verified, assets...)
}

func pluginPayload(id, version string, verified bool, assets ...models.PluginAssetPayload) *models.PluginPayload {
	payload := &models.PluginPayload{
		DistFile: models.PluginDistributionFile{
			Metadata: models.PluginMetadata{ID: id, Version: version},
		},
		Assets:   assets,
		Verified: verified,
	}
	for _, a := range assets {
		payload.DistFile.Assets = append(payload.DistFile.Assets, a.PluginAsset)
	}
	return payload
}

func configAsset(t *testing.T, file string, publishers ...models.Publisher) models.PluginAssetPayload {
	return models.PluginAssetPayload{
		PluginAsset: models.PluginAsset{File: file, Type: string(models.AssetTypeConfigurationExtension)},
		Buffer:      testutil.ConfigurationExtensionAsset(t, publishers...),
	}
}

// installedPlugins serves a fixed plugin list to ReloadFromDisk.
type installedPlugins struct {
	plugins.Installer
	payloads []*models.PluginPayload
}

func (i installedPlugins) ListInstalled() ([]*models.PluginPayload, error) {
	return append([]*models.PluginPayload(nil), i.payloads...), nil
}

func (i installedPlugins) Root() string { return "memory" }

func keys(publishers []models.Publisher) []string {
	out := make([]string, 0, len(publishers))
	for _, p := range publishers {
		out = append(out, p.Key)
	}
	return out
}

func TestApplyIsIdempotent(t *testing.T) {
	cfg := configuration.NewStore(models.Publisher{Key: "flybywire", Name: "FlyByWire Simulations"})
	am := plugins.NewApplicationManager(cfg)
	payload := payloadWithAssets(true, configAsset(t, "config.json",
		testutil.Publisher("acme", "https://cdn.example.com/acme"),
		testutil.Publisher("globex", "https://cdn.example.com/globex"),
	))

	am.Apply(payload)
	once := cfg.Publishers()
	am.Apply(payload)

	assert.Equal(t, once, cfg.Publishers())
	assert.Equal(t, []string{"flybywire", "acme", "globex"}, keys(once))
}

func TestApplyFirstRegistrationWins(t *testing.T) {
	existing := models.Publisher{Key: "acme", Name: "Original Acme"}
	cfg := configuration.NewStore(existing)
	am := plugins.NewApplicationManager(cfg)

	am.Apply(payloadWithAssets(true, configAsset(t, "config.json", models.Publisher{Key: "acme", Name: "Plugin Acme"})))

	p, ok := cfg.Publisher("acme")
	require.True(t, ok)
	assert.Equal(t, "Original Acme", p.Name)
	assert.False(t, p.Verified)
	assert.Len(t, cfg.Publishers(), 1)
}

func TestApplyStampsVerifiedFlag(t *testing.T) {
	for _, verified := range []bool{true, false} {
		cfg := configuration.NewStore()
		am := plugins.NewApplicationManager(cfg)

		publisher := testutil.Publisher("acme", "https://cdn.example.com/acme")
		publisher.Verified = !verified
		am.Apply(payloadWithAssets(verified, configAsset(t, "config.json", publisher)))

		p, ok := cfg.Publisher("acme")
		require.True(t, ok)
		assert.Equal(t, verified, p.Verified)
	}
}

func TestApplySkipsUnknownContent(t *testing.T) {
	cfg := configuration.NewStore()
	am := plugins.NewApplicationManager(cfg)

	payload := payloadWithAssets(false,
		models.PluginAssetPayload{
			PluginAsset: models.PluginAsset{File: "logo.png", Type: "image"},
			Buffer:      []byte{0x89, 'P', 'N', 'G'},
		},
		models.PluginAssetPayload{
			PluginAsset: models.PluginAsset{File: "broken.json", Type: "configurationExtension"},
			Buffer:      []byte("{"),
		},
		models.PluginAssetPayload{
			PluginAsset: models.PluginAsset{File: "future.json", Type: "ConfigurationExtension"},
			Buffer: []byte(`{"directives":[
				{"directive":"removeEverything"},
				{"directive":"addPublishers","publishers":[{"key":"acme","name":"Acme","addons":[]}]}
			]}`),
		},
	)

	am.Apply(payload)
	assert.Equal(t, []string{"acme"}, keys(cfg.Publishers()))
}

func TestRetract(t *testing.T) {
	t.Run("never applied is a no-op", func(t *testing.T) {
		initial := []models.Publisher{{Key: "flybywire"}, {Key: "other"}}
		cfg := configuration.NewStore(initial...)
		am := plugins.NewApplicationManager(cfg)

		am.Retract(payloadWithAssets(true, configAsset(t, "config.json", testutil.Publisher("acme", "https://x"))))
		assert.Equal(t, initial, cfg.Publishers())
	})

	t.Run("removes applied publishers by key", func(t *testing.T) {
		cfg := configuration.NewStore(models.Publisher{Key: "flybywire"})
		am := plugins.NewApplicationManager(cfg)
		payload := payloadWithAssets(true, configAsset(t, "config.json",
			testutil.Publisher("acme", "https://cdn.example.com/acme"),
		))

		am.Apply(payload)
		require.Len(t, cfg.Publishers(), 2)

		// A publisher renamed since it was applied is still matched.
		renamed := payloadWithAssets(true, configAsset(t, "config.json", models.Publisher{Key: "acme", Name: "Renamed"}))
		am.Retract(renamed)
		assert.Equal(t, []string{"flybywire"}, keys(cfg.Publishers()))
	})
}

func TestReloadFromDisk(t *testing.T) {
	f, publish := newInstallFixture(t)
	publish("1.0.0", testutil.Publisher("acme", "https://cdn.example.com/acme"))
	_, err := f.im.InstallWithResult(context.Background(), f.server.URL)
	require.NoError(t, err)

	cfg := configuration.NewStore()
	am := plugins.NewApplicationManager(cfg)

	require.NoError(t, am.ReloadFromDisk(f.im))
	require.NoError(t, am.ReloadFromDisk(f.im))

	assert.Equal(t, []string{"acme"}, keys(cfg.Publishers()))
	p, _ := cfg.Publisher("acme")
	assert.True(t, p.Verified)
}

func TestReloadFromDiskRetractsDeletedPlugins(t *testing.T) {
	f, publish := newInstallFixture(t)
	publish("1.0.0", testutil.Publisher("acme", "https://cdn.example.com/acme"))
	_, err := f.im.InstallWithResult(context.Background(), f.server.URL)
	require.NoError(t, err)

	cfg := configuration.NewStore(models.Publisher{Key: "flybywire"})
	am := plugins.NewApplicationManager(cfg)
	require.NoError(t, am.ReloadFromDisk(f.im))
	require.ElementsMatch(t, []string{"flybywire", "acme"}, keys(cfg.Publishers()))

	// Removed behind the manager's back, e.g. by the CLI.
	f.im.Delete("acme")
	require.NoError(t, am.ReloadFromDisk(f.im))

	assert.Equal(t, []string{"flybywire"}, keys(cfg.Publishers()))
}

func TestRetractKeepsPublishersItDidNotAdd(t *testing.T) {
	host := models.Publisher{Key: "flybywire", Name: "FlyByWire Simulations", Verified: true}
	cfg := configuration.NewStore(host)
	am := plugins.NewApplicationManager(cfg)

	acme := pluginPayload("acme", "1.0.0", false, configAsset(t, "config.json",
		models.Publisher{Key: "flybywire", Name: "Impostor"},
		models.Publisher{Key: "acme", Name: "Acme"},
	))
	globex := pluginPayload("globex", "1.0.0", true, configAsset(t, "config.json",
		models.Publisher{Key: "globex", Name: "Globex"},
	))
	am.Apply(acme)
	am.Apply(globex)
	require.Equal(t, []string{"flybywire", "acme", "globex"}, keys(cfg.Publishers()))

	am.Retract(acme)

	assert.Equal(t, []string{"flybywire", "globex"}, keys(cfg.Publishers()))
	p, _ := cfg.Publisher("flybywire")
	assert.Equal(t, host, p)
}

func TestApplyNewVersionRetractsPreviousVersion(t *testing.T) {
	cfg := configuration.NewStore(models.Publisher{Key: "flybywire"})
	am := plugins.NewApplicationManager(cfg)

	v1 := pluginPayload("acme", "1.0.0", true, configAsset(t, "config.json",
		models.Publisher{Key: "flybywire"},
		models.Publisher{Key: "a", Name: "A v1"},
		models.Publisher{Key: "b", Name: "B v1"},
	))
	v2 := pluginPayload("acme", "2.0.0", true, configAsset(t, "config.json",
		models.Publisher{Key: "a", Name: "A v2"},
	))

	am.Apply(v1)
	require.Equal(t, []string{"flybywire", "a", "b"}, keys(cfg.Publishers()))

	am.Apply(v2)
	assert.Equal(t, []string{"flybywire", "a"}, keys(cfg.Publishers()))
	p, _ := cfg.Publisher("a")
	assert.Equal(t, "A v2", p.Name)

	am.Retract(v2)
	assert.Equal(t, []string{"flybywire"}, keys(cfg.Publishers()))
}

func TestReloadFromDiskConflictingPlugins(t *testing.T) {
	host := models.Publisher{Key: "flybywire", Name: "FlyByWire Simulations", Verified: true}
	cfg := configuration.NewStore(host)
	am := plugins.NewApplicationManager(cfg)

	aaa := pluginPayload("aaa", "1.0.0", true, configAsset(t, "config.json",
		models.Publisher{Key: "shared", Name: "From aaa"},
	))
	zzz := pluginPayload("zzz", "1.0.0", false, configAsset(t, "config.json",
		models.Publisher{Key: "flybywire", Name: "Impostor"},
		models.Publisher{Key: "shared", Name: "From zzz"},
	))

	// Listed out of order on purpose.
	disk := installedPlugins{payloads: []*models.PluginPayload{zzz, aaa}}
	for i := 0; i < 2; i++ {
		require.NoError(t, am.ReloadFromDisk(disk))

		assert.Equal(t, []string{"flybywire", "shared"}, keys(cfg.Publishers()), "reload %d", i)
		p, _ := cfg.Publisher("flybywire")
		assert.Equal(t, host, p, "reload %d", i)
		p, _ = cfg.Publisher("shared")
		assert.Equal(t, "From aaa", p.Name, "reload %d", i)
		assert.True(t, p.Verified, "reload %d", i)
	}

	// Once aaa is gone the key falls to zzz; the host publisher stays.
	require.NoError(t, am.ReloadFromDisk(installedPlugins{payloads: []*models.PluginPayload{zzz}}))
	assert.Equal(t, []string{"flybywire", "shared"}, keys(cfg.Publishers()))
	p, _ := cfg.Publisher("shared")
	assert.Equal(t, "From zzz", p.Name)
	assert.False(t, p.Verified)
	p, _ = cfg.Publisher("flybywire")
	assert.Equal(t, host, p)
}

func TestApplyConcurrentNoDuplicates(t *testing.T) {
	cfg := configuration.NewStore()
	am := plugins.NewApplicationManager(cfg)

	versions := make([]*models.PluginPayload, 4)
	for i := range versions {
		versions[i] = pluginPayload("acme", fmt.Sprintf("1.%d.0", i), true, configAsset(t, "config.json",
			models.Publisher{Key: "acme", Name: fmt.Sprintf("Acme %d", i)},
			models.Publisher{Key: "shared"},
		))
	}
	other := pluginPayload("globex", "1.0.0", true, configAsset(t, "config.json",
		models.Publisher{Key: "globex"},
		models.Publisher{Key: "shared"},
	))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			am.Apply(versions[i%len(versions)])
		}(i)
		go func() {
			defer wg.Done()
			am.Apply(other)
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"acme", "globex", "shared"}, keys(cfg.Publishers()))
}
