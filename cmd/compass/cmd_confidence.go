// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/compass/services/sync/confidence"
	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/engine"
)

func runConfidence(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	var scores map[string]int
	if len(args) == 1 {
		scores, err = scoreFromFile(args[0], cfg.Engine.Weights)
	} else {
		scores, err = scoreFromBackend(cmd.Context(), cfg)
	}
	if err != nil {
		return err
	}

	if len(scores) == 0 {
		fmt.Println("no objectives")
		return nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%-30s %3d\n", id, scores[id])
	}
	return nil
}

// scoreFromFile scores a JSON file holding a flat OKRT array, no network
// involved.
func scoreFromFile(path string, weights confidence.Weights) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var forest []datatypes.OKRT
	if err := json.Unmarshal(data, &forest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	p := confidence.New(confidence.WithWeights(weights))
	return p.ScoreAll(forest), nil
}

func scoreFromBackend(ctx context.Context, cfg Config) (map[string]int, error) {
	opts := []engine.Option{}
	if cfg.AuthToken != "" {
		token := cfg.AuthToken
		opts = append(opts, engine.WithAuthToken(func() string { return token }))
	}

	e, err := engine.New(cfg.Engine, opts...)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e.Confidence(ctx)
}
