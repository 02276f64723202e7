// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/compass/pkg/logging"
	"github.com/AleutianAI/compass/services/sync/engine"
)

const defaultConfigPath = "compass.yaml"

// Config is the on-disk configuration for the compass CLI.
type Config struct {
	// Listen is the local API address for `compass serve`.
	Listen string `yaml:"listen"`

	// AuthToken is the backend bearer token. The COMPASS_AUTH_TOKEN
	// environment variable takes precedence so tokens can stay out of
	// config files.
	AuthToken string `yaml:"auth_token"`

	// Trace selects the span exporter: "stdout" or "none".
	Trace string `yaml:"trace"`

	Engine  engine.Config  `yaml:"engine"`
	Logging logging.Config `yaml:"logging"`
}

func defaultCLIConfig() Config {
	return Config{
		Listen:  ":7171",
		Trace:   "none",
		Engine:  engine.DefaultConfig("http://localhost:8080"),
		Logging: logging.Config{Service: "compass"},
	}
}

// loadConfig reads the config file, layering it over the defaults. A
// missing file at the default path is fine; an explicitly given path
// must exist.
func loadConfig(path string) (Config, error) {
	cfg := defaultCLIConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if token := os.Getenv("COMPASS_AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}
	return cfg, nil
}
