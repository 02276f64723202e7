// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/snapshot"
)

func openSnapshotStore() (*snapshot.Store, error) {
	cfg, err := setup()
	if err != nil {
		return nil, err
	}
	if cfg.Engine.SnapshotPath == "" {
		return nil, errors.New("no snapshot path configured (set engine.snapshot_path or --path)")
	}
	return snapshot.Open(snapshot.DefaultConfig(cfg.Engine.SnapshotPath))
}

func runSnapshotInspect(cmd *cobra.Command, args []string) error {
	store, err := openSnapshotStore()
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(context.Background())
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		fmt.Println("no snapshot")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("saved %s (%s ago)\n",
		snap.SavedAt.Format(time.RFC3339), time.Since(snap.SavedAt).Round(time.Second))

	sections := make([]string, 0, len(snap.LastUpdated))
	for section := range snap.LastUpdated {
		sections = append(sections, string(section))
	}
	sort.Strings(sections)
	for _, section := range sections {
		fmt.Printf("  %-15s %s\n", section,
			snap.LastUpdated[datatypes.Section(section)].Format(time.RFC3339))
	}
	fmt.Printf("myOKRTs: %d  sharedOKRTs: %d  notifications: %d\n",
		len(snap.Tree.MyOKRTs), len(snap.Tree.SharedOKRTs), len(snap.Tree.Notifications))
	return nil
}

func runSnapshotClear(cmd *cobra.Command, args []string) error {
	store, err := openSnapshotStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background()); err != nil {
		return err
	}
	fmt.Println("snapshot cleared")
	return nil
}
