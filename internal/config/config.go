// This file defines the configuration structure for the application.
package config

import (
	// use Viper for loading the config.yml file.
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Plugins struct {
		// Path overrides the platform plugins root when set.
		Path                string `mapstructure:"path"`
		UpdateCheckInterval int    `mapstructure:"update_check_interval"` // minutes, 0 disables
		HTTPTimeout         int    `mapstructure:"http_timeout"`          // seconds, 0 uses transport defaults
		RequireSignature    bool   `mapstructure:"require_signature"`
		PublicKey           string `mapstructure:"public_key"` // base64 PEM, empty uses the embedded key
	} `mapstructure:"plugins"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// --- Environment Variable Overrides ---
	// e.g., FBW_PLUGINS_PATH will override the `plugins.path` key.
	v.SetEnvPrefix("FBW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./installer.db")
	v.SetDefault("plugins.path", "")
	v.SetDefault("plugins.update_check_interval", 360)
	v.SetDefault("plugins.http_timeout", 30)
	v.SetDefault("plugins.require_signature", false)
	v.SetDefault("plugins.public_key", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
