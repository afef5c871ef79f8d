package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file. Every field has a working default so
// a config file is optional.
type Config struct {
	DBPath   string `yaml:"dbPath"`
	LogLevel string `yaml:"logLevel"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   "source-assistant.db",
		LogLevel: "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultConfig().DBPath
	}
	return cfg, nil
}
