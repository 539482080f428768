// This test file verifies the configuration loading logic using Viper.

package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults when no config file", func(t *testing.T) {
		// Ensure no config file exists for this test
		os.Remove("config.yml")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.Port != 8080 {
			t.Errorf("Expected default port 8080, got %d", cfg.Port)
		}
		if cfg.Database.Path != "./installer.db" {
			t.Errorf("Expected default db path './installer.db', got '%s'", cfg.Database.Path)
		}
		if cfg.Plugins.Path != "" {
			t.Errorf("Expected empty plugins path, got '%s'", cfg.Plugins.Path)
		}
		if cfg.Plugins.UpdateCheckInterval != 360 {
			t.Errorf("Expected default update check interval 360, got %d", cfg.Plugins.UpdateCheckInterval)
		}
		if cfg.Plugins.HTTPTimeout != 30 {
			t.Errorf("Expected default http timeout 30, got %d", cfg.Plugins.HTTPTimeout)
		}
		if cfg.Plugins.RequireSignature {
			t.Error("Expected signatures to be optional by default")
		}
	})

	t.Run("Loads from config file", func(t *testing.T) {
		configContent := `
port: 9999
database:
  path: "/tmp/test.db"
plugins:
  path: "/tmp/plugins"
  require_signature: true
unknown_setting: "should be ignored"
`
		// Create the config file in the current directory so Viper can find it.
		// Note: `t.TempDir()` is not used here because Viper looks in the CWD.
		configPath := "config.yml"
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write test config file: %v", err)
		}
		defer os.Remove(configPath)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.Port != 9999 {
			t.Errorf("Expected port 9999, got %d", cfg.Port)
		}
		if cfg.Database.Path != "/tmp/test.db" {
			t.Errorf("Expected db path '/tmp/test.db', got '%s'", cfg.Database.Path)
		}
		if cfg.Plugins.Path != "/tmp/plugins" {
			t.Errorf("Expected plugins path '/tmp/plugins', got '%s'", cfg.Plugins.Path)
		}
		if !cfg.Plugins.RequireSignature {
			t.Error("Expected require_signature to be true")
		}
		if cfg.Plugins.UpdateCheckInterval != 360 {
			t.Errorf("Expected default update check interval of 360, got %d", cfg.Plugins.UpdateCheckInterval)
		}
	})

	t.Run("Environment overrides", func(t *testing.T) {
		os.Remove("config.yml")
		t.Setenv("FBW_PLUGINS_PATH", "/env/plugins")
		t.Setenv("FBW_PORT", "7070")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.Plugins.Path != "/env/plugins" {
			t.Errorf("Expected plugins path from env, got '%s'", cfg.Plugins.Path)
		}
		if cfg.Port != 7070 {
			t.Errorf("Expected port 7070 from env, got %d", cfg.Port)
		}
	})
}
