// ABOUTME: Configuration loading for the plugin host
// ABOUTME: YAML file via viper, with XDG expansion for the database path

package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harper/plugkit/internal/xdg"
)

type Config struct {
	Plugin   PluginConfig   `mapstructure:"plugin"`
	Call     CallConfig     `mapstructure:"call"`
	Database DatabaseConfig `mapstructure:"database"`
}

type PluginConfig struct {
	Command               string            `mapstructure:"command"`
	Args                  []string          `mapstructure:"args"`
	Env                   map[string]string `mapstructure:"env"`
	WorkingDir            string            `mapstructure:"working_dir"`
	StartupTimeoutSeconds int               `mapstructure:"startup_timeout_seconds"`
}

type CallConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// IMPORTANT: Viper lowercases all map keys, but environment variables are case-sensitive
	// Parse YAML directly to preserve original key case for plugin.env
	//nolint:gosec // config file path from validated user input
	data, err := os.ReadFile(path)
	if err == nil {
		var rawConfig struct {
			Plugin struct {
				Env map[string]string `yaml:"env"`
			} `yaml:"plugin"`
		}
		if yaml.Unmarshal(data, &rawConfig) == nil && len(rawConfig.Plugin.Env) > 0 {
			cfg.Plugin.Env = rawConfig.Plugin.Env
		}
	}

	if cfg.Plugin.Command == "" {
		return nil, fmt.Errorf("plugin.command is required")
	}

	// Expand XDG variables in database path
	cfg.Database.Path = xdg.ExpandPath(cfg.Database.Path)

	if cfg.Call.TimeoutSeconds <= 0 {
		cfg.Call.TimeoutSeconds = 30
	}

	return &cfg, nil
}
