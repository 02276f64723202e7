// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/compass/services/sync/confidence"
	"github.com/AleutianAI/compass/services/sync/fetch"
	"github.com/AleutianAI/compass/services/sync/store"
)

// Config holds the tunable parameters of a sync engine.
type Config struct {
	// BaseURL is the backend serving the stream and calendar endpoints.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// FreshnessWindow is the maximum age of servable cached data.
	FreshnessWindow time.Duration `yaml:"freshness_window" validate:"min=0"`

	// ErrorCacheTTL is how long a failed primary fetch is remembered.
	ErrorCacheTTL time.Duration `yaml:"error_cache_ttl" validate:"min=0"`

	// SnapshotPath enables the persisted warm-start snapshot when set.
	SnapshotPath string `yaml:"snapshot_path"`

	// SignalFile enables the file-based invalidation bus when set.
	SignalFile string `yaml:"signal_file"`

	// SignalRelayURL enables the websocket invalidation bus when set.
	// Mutually exclusive with SignalFile.
	SignalRelayURL string `yaml:"signal_relay_url" validate:"omitempty,url,excluded_with=SignalFile"`

	// Weights are the confidence projection coefficients.
	Weights confidence.Weights `yaml:"weights"`
}

// DefaultConfig returns the standard configuration for a backend URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		FreshnessWindow: store.DefaultFreshnessWindow,
		ErrorCacheTTL:   fetch.DefaultErrorCacheTTL,
		Weights:         confidence.DefaultWeights(),
	}
}

var validate = validator.New()

// Validate checks the configuration and fills defaulted zero values.
func (c *Config) Validate() error {
	if c.FreshnessWindow == 0 {
		c.FreshnessWindow = store.DefaultFreshnessWindow
	}
	if c.ErrorCacheTTL == 0 {
		c.ErrorCacheTTL = fetch.DefaultErrorCacheTTL
	}
	if c.Weights == (confidence.Weights{}) {
		c.Weights = confidence.DefaultWeights()
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}
