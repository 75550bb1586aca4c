package main

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gitlab.com/tozd/go/errors"
)

// collectorConfig is the TOML-backed configuration. Invalid fields are
// reset to their defaults so a bad config file never keeps the collector
// from starting.
type collectorConfig struct {
	Listen   string `toml:"listen" validate:"required,hostname_port"`
	APIKey   string `toml:"api_key"`
	Template string `toml:"template" validate:"required"`
	Verbose  bool   `toml:"verbose"`
}

func defaultConfig() collectorConfig {
	return collectorConfig{
		Listen:   "127.0.0.1:7420",
		Template: "{timestamp} {level} [{name}@{environment}] {message}",
	}
}

// defaultConfigPath resolves the per-user config location.
func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "consoletext", "collector.toml")
}

var configValidator = validator.New()

// loadConfig reads path (or the XDG default when empty). A missing file
// yields defaults; a malformed file is an error; invalid field values are
// defaulted per field.
func loadConfig(path string) (collectorConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.WithStack(err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return normalizeConfig(cfg), nil
}

func normalizeConfig(cfg collectorConfig) collectorConfig {
	def := defaultConfig()
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.StructField() {
				case "Listen":
					cfg.Listen = def.Listen
				case "Template":
					cfg.Template = def.Template
				}
			}
		}
	}
	return cfg
}
