// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagBaseURL  string
	flagSnapPath string

	rootCmd = &cobra.Command{
		Use:   "compass",
		Short: "Client-side sync cache for OKRT goal data",
		Long: `Compass keeps a local, always-renderable copy of the OKRT main tree:
it streams sections progressively from the backend, applies cache-update
patches from write responses, scores objective confidence, and
invalidates across instances when authentication changes.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the local sync API",
		RunE:  runServe,
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Manage the persisted warm-start snapshot",
	}
	snapshotInspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted snapshot's sections and age",
		RunE:  runSnapshotInspect,
	}
	snapshotClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted snapshot",
		RunE:  runSnapshotClear,
	}

	confidenceCmd = &cobra.Command{
		Use:   "confidence [okrt.json]",
		Short: "Score objectives from a file, or from the backend when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfidence,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "",
		"config file (default compass.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"override the configured log level")

	serveCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "override the backend base URL")
	confidenceCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "override the backend base URL")

	snapshotCmd.PersistentFlags().StringVar(&flagSnapPath, "path", "",
		"snapshot directory (default from config)")
	snapshotCmd.AddCommand(snapshotInspectCmd, snapshotClearCmd)

	rootCmd.AddCommand(serveCmd, snapshotCmd, confidenceCmd)
}

// setup loads config and applies flag overrides shared by the commands.
func setup() (Config, error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagBaseURL != "" {
		cfg.Engine.BaseURL = flagBaseURL
	}
	if flagSnapPath != "" {
		cfg.Engine.SnapshotPath = flagSnapPath
	}
	return cfg, nil
}
