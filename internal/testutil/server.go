// A shared test server setup utility, which simplifies all API tests.

package testutil

import (
	"crypto/ecdsa"
	"testing"

	"github.com/pdellaert/fbw-installer/internal/api"
	"github.com/pdellaert/fbw-installer/internal/config"
	"github.com/pdellaert/fbw-installer/internal/core"
	"github.com/pdellaert/fbw-installer/internal/plugins"
)

// SetupTestApp wires a core.App around an in-memory database and a
// temporary plugins root. When publicKey is not empty it is trusted instead of
// the embedded release key.
func SetupTestApp(t *testing.T, publicKey string) *core.App {
	t.Helper()
	db := SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Plugins.Path = t.TempDir()
	cfg.Plugins.PublicKey = publicKey

	app, err := core.NewWithDB(cfg, db)
	if err != nil {
		t.Fatalf("Failed to set up app: %v", err)
	}
	app.Version = "test"
	go app.WsHub().Run()
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration
// testing. The returned key signs plugins the app trusts.
func SetupTestServer(t *testing.T) (*api.Server, *core.App, *ecdsa.PrivateKey) {
	t.Helper()
	key, _ := NewSigningKey(t)
	encoded, err := plugins.EncodePublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to encode public key: %v", err)
	}

	app := SetupTestApp(t, encoded)
	return api.NewServer(app), app, key
}
