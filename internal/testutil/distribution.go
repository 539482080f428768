// This file contains a fake plugin distribution server and signing helpers.

package testutil

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/pdellaert/fbw-installer/internal/plugins"
)

// DistributionServer serves one plugin release the way a plugin host does:
// GET /dist.json and GET /assets/{file}.
type DistributionServer struct {
	*httptest.Server

	mu         sync.Mutex
	manifest   []byte
	assets     map[string][]byte
	failAssets map[string]bool
	requests   map[string]int
	hold       chan struct{}
}

// NewDistributionServer starts a server that is closed when the test ends.
func NewDistributionServer(t *testing.T) *DistributionServer {
	t.Helper()
	s := &DistributionServer{
		assets:     make(map[string][]byte),
		failAssets: make(map[string]bool),
		requests:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *DistributionServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	hold := s.hold
	s.mu.Unlock()

	if hold != nil && r.URL.Path == "/dist.json" {
		<-hold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path == "/dist.json" {
		if s.manifest == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(s.manifest)
		return
	}

	file, ok := strings.CutPrefix(r.URL.Path, "/assets/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.failAssets[file] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	data, ok := s.assets[file]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

// Publish replaces the served release. An empty OriginURL is set to the server URL.
func (s *DistributionServer) Publish(t *testing.T, manifest models.PluginDistributionFile, assets map[string][]byte) models.PluginDistributionFile {
	t.Helper()
	if manifest.OriginURL == "" {
		manifest.OriginURL = s.URL
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("Failed to encode manifest: %v", err)
	}
	s.PublishRaw(data, assets)
	return manifest
}

// PublishRaw replaces the served release, serving manifest byte for byte.
func (s *DistributionServer) PublishRaw(manifest []byte, assets map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = append([]byte(nil), manifest...)
	s.assets = make(map[string][]byte, len(assets))
	for name, content := range assets {
		s.assets[name] = content
	}
}

// HoldManifest blocks requests for /dist.json until release is called.
// Requests are still counted while they wait.
func (s *DistributionServer) HoldManifest() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.hold = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == gate {
				s.hold = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// FailAsset makes requests for file answer 500.
func (s *DistributionServer) FailAsset(file string) {
	s.mu.Lock()
	s.failAssets[file] = true
	s.mu.Unlock()
}

// Requests returns how often path was requested.
func (s *DistributionServer) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// NewSigningKey returns a fresh key and a verifier trusting it.
func NewSigningKey(t *testing.T) (*ecdsa.PrivateKey, *plugins.Verifier) {
	t.Helper()
	key, err := plugins.GenerateSigningKey()
	if err != nil {
		t.Fatalf("Failed to generate signing key: %v", err)
	}
	return key, plugins.NewVerifier(&key.PublicKey)
}

// Release describes a plugin release for tests.
type Release struct {
	ID         string
	Version    string
	Publishers []models.Publisher
	// Extra assets served next to the configuration extension.
	Extra map[string][]byte
}

// Build returns the manifest and assets of r. When key is not nil the
// manifest is signed.
func (r Release) Build(t *testing.T, originURL string, key *ecdsa.PrivateKey) (models.PluginDistributionFile, map[string][]byte) {
	t.Helper()

	manifest := models.PluginDistributionFile{
		Metadata: models.PluginMetadata{
			ID:          r.ID,
			Version:     r.Version,
			Name:        r.ID + " plugin",
			Description: "Test plugin " + r.ID,
		},
		OriginURL: originURL,
		Assets: []models.PluginAsset{
			{File: "config.json", Type: string(models.AssetTypeConfigurationExtension)},
		},
	}
	assets := map[string][]byte{
		"config.json": ConfigurationExtensionAsset(t, r.Publishers...),
	}
	for name, content := range r.Extra {
		manifest.Assets = append(manifest.Assets, models.PluginAsset{File: name, Type: string(models.AssetTypeConfigurationExtension)})
		assets[name] = content
	}

	if key != nil {
		payload := &models.PluginPayload{DistFile: manifest}
		for _, asset := range manifest.Assets {
			payload.Assets = append(payload.Assets, models.PluginAssetPayload{PluginAsset: asset, Buffer: assets[asset.File]})
		}
		signature, err := plugins.Sign(key, payload)
		if err != nil {
			t.Fatalf("Failed to sign release: %v", err)
		}
		manifest.Signature = &signature
	}
	return manifest, assets
}

// PublishRelease builds r against the server URL and publishes it.
func (s *DistributionServer) PublishRelease(t *testing.T, r Release, key *ecdsa.PrivateKey) models.PluginDistributionFile {
	t.Helper()
	manifest, assets := r.Build(t, s.URL, key)
	return s.Publish(t, manifest, assets)
}

// ConfigurationExtensionAsset encodes a configuration extension adding publishers.
func ConfigurationExtensionAsset(t *testing.T, publishers ...models.Publisher) []byte {
	t.Helper()
	if publishers == nil {
		publishers = []models.Publisher{}
	}
	ext := models.ConfigurationExtension{
		Directives: []models.Directive{{
			Kind:          models.DirectiveAddPublishers,
			Name:          string(models.DirectiveAddPublishers),
			AddPublishers: &models.AddPublishersDirective{Publishers: publishers},
		}},
	}
	data, err := json.Marshal(ext)
	if err != nil {
		t.Fatalf("Failed to encode configuration extension: %v", err)
	}
	return data
}

// Publisher returns a publisher with one addon offering a single track at url.
func Publisher(key, url string) models.Publisher {
	return models.Publisher{
		Key:  key,
		Name: strings.ToUpper(key),
		Addons: []models.Addon{{
			Key:  key + "-addon",
			Name: key + " addon",
			Tracks: []models.Track{{
				Key:  "stable",
				Name: "Stable",
				URL:  url,
			}},
		}},
	}
}
