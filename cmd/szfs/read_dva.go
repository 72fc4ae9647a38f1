// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Error1000/szfs/zfs"
	"github.com/spf13/cobra"
)

func newReadDVACommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:     "read-dva VDEV_ID:SECTOR_OFFSET:SIZE_SECTORS SIZE_BYTES",
		Short:   "Dereference one raw DVA and write its bytes",
		GroupID: basicCommand,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dva, err := parseDVAArg(args[0])
			if err != nil {
				return err
			}
			size, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid size argument %q: %w", args[1], err)
			}

			_, vdevs, err := openPool(cmd)
			if err != nil {
				return err
			}

			data, err := dva.Dereference(vdevs, size, nil)
			if err != nil {
				return fmt.Errorf("dereference dva: %w", err)
			}

			if outPath == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the dereferenced bytes here instead of stdout")
	return cmd
}

// parseDVAArg parses "vdev_id:sector_offset:size_sectors".
func parseDVAArg(s string) (zfs.DVA, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return zfs.DVA{}, fmt.Errorf("dva must be vdev_id:sector_offset:size_sectors, got %q", s)
	}
	vdevID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return zfs.DVA{}, fmt.Errorf("invalid vdev_id %q: %w", parts[0], err)
	}
	sectorOffset, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return zfs.DVA{}, fmt.Errorf("invalid sector_offset %q: %w", parts[1], err)
	}
	sizeSectors, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return zfs.DVA{}, fmt.Errorf("invalid size_sectors %q: %w", parts[2], err)
	}
	return zfs.DVA{VdevID: vdevID, SectorOffset: sectorOffset, SizeSectors: uint32(sizeSectors)}, nil
}
