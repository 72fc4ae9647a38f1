// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/Error1000/szfs/vdev"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	basicCommand    = "basic"
	recoveryCommand = "recovery"
)

func main() {
	if err := newApp().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "szfs",
		Short:         "Read-only forensic reader and data-recovery tool for ZFS-like pools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringSlice("device", nil, "leaf device file, repeatable in physical device-id order")
	rootCmd.PersistentFlags().Int("sector-size", 512, "pool-wide sector size in bytes")
	rootCmd.PersistentFlags().Int("raidz-parity", 0, "number of rotating RAIDZ parity columns (0 for a non-RAIDZ / single-device pool)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level [trace, debug, info, warn, error]")
	rootCmd.PersistentFlags().Int64("checkpoint-interval", 0, "bytes between scan checkpoints (no subcommand reads this value)")
	rootCmd.PersistentFlags().String("checksum-map", "checksums.map", "path to the precomputed sector checksum-map file")
	rootCmd.PersistentFlags().String("yolo-cache", "yolo-cache.json", "path to the persistent YOLO result cache")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		lvlStr, _ := cmd.Flags().GetString("log-level")
		lvl, err := logrus.ParseLevel(lvlStr)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", lvlStr, err)
		}
		logrus.SetLevel(lvl)
		return nil
	}

	rootCmd.AddGroup(&cobra.Group{ID: basicCommand, Title: "Reading commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: recoveryCommand, Title: "Recovery commands:"})

	rootCmd.AddCommand(
		newReadDVACommand(),
		newFSWalkerCommand(),
		newBuildChecksumTableCommand(),
		newFindBlockByHashCommand(),
		newFindBlockWithChecksumCommand(),
		newUndeleteCommand(),
		newRecoverCommand(),
		newSurgeonCommand(),
		newApplyBinPatchCommand(),
	)

	return rootCmd
}

// openPool opens every --device leaf in order and wraps them in a RaidZ
// array per --sector-size/--raidz-parity. A single device with parity 0
// degrades to a plain passthrough stripe, which is the common case for a
// non-RAIDZ pool.
func openPool(cmd *cobra.Command) (*vdev.RaidZ, vdev.Vdevs, error) {
	devicePaths, _ := cmd.Flags().GetStringSlice("device")
	sectorSize, _ := cmd.Flags().GetInt("sector-size")
	nparity, _ := cmd.Flags().GetInt("raidz-parity")

	if len(devicePaths) == 0 {
		return nil, nil, fmt.Errorf("at least one --device is required")
	}

	leaves := make([]vdev.Vdev, 0, len(devicePaths))
	for _, p := range devicePaths {
		f, err := os.Open(p)
		if err != nil {
			return nil, nil, fmt.Errorf("open device %s: %w", p, err)
		}
		fi, err := f.Stat()
		if err != nil {
			return nil, nil, fmt.Errorf("stat device %s: %w", p, err)
		}
		leaves = append(leaves, vdev.NewLeaf(f, nil, f, fi.Size()))
	}

	raidz, err := vdev.NewRaidZ(leaves, nparity, sectorSize, logrus.StandardLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("assemble raidz array: %w", err)
	}

	vdevs := vdev.Vdevs{0: raidz}
	return raidz, vdevs, nil
}

// readLeaf0Raw reads label 0 (the first 256 KiB of the raw device) of
// the first configured --device, the bytes pool.Pool.Walk expects.
func readLeaf0Raw(cmd *cobra.Command) ([]byte, error) {
	devicePaths, _ := cmd.Flags().GetStringSlice("device")
	if len(devicePaths) == 0 {
		return nil, fmt.Errorf("at least one --device is required")
	}
	f, err := os.Open(devicePaths[0])
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", devicePaths[0], err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat device %s: %w", devicePaths[0], err)
	}
	leaf := vdev.NewLeaf(f, nil, f, fi.Size())
	return leaf.ReadLabel(0)
}
