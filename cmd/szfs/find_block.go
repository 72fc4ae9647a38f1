// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Error1000/szfs/recovery"
	"github.com/Error1000/szfs/zfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// parseChecksumArg parses a colon-separated quartet of hex uint64 words
// into a zfs.Checksum.
func parseChecksumArg(s string) (zfs.Checksum, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return zfs.Checksum{}, fmt.Errorf("checksum must be 4 colon-separated hex words, got %q", s)
	}
	var cs zfs.Checksum
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 64)
		if err != nil {
			return zfs.Checksum{}, fmt.Errorf("invalid checksum word %q: %w", p, err)
		}
		cs[i] = v
	}
	return cs, nil
}

func newFindBlockByHashCommand() *cobra.Command {
	var checksumArg string
	var psize int
	var outPath string
	cmd := &cobra.Command{
		Use:     "find-block-by-hash",
		Short:   "Brute-force scan for a block matching a known fletcher4 checksum (no checksum-map needed)",
		GroupID: recoveryCommand,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raidz, _, err := openPool(cmd)
			if err != nil {
				return err
			}
			checksum, err := parseChecksumArg(checksumArg)
			if err != nil {
				return err
			}

			sectorSize := raidz.SectorSize()
			diskSize := raidz.Size()

			for off := int64(0); off+int64(psize) <= diskSize; off += int64(sectorSize) {
				data, err := raidz.ReadAt(off, psize)
				if err != nil {
					continue
				}
				if zfs.Fletcher4(data) != checksum {
					continue
				}
				logrus.Infof("find-block-by-hash: match at offset %d", off)
				if outPath == "" {
					outPath = "found-block.bin"
				}
				return os.WriteFile(outPath, data, 0o644)
			}
			return fmt.Errorf("no block matched checksum %v", checksum)
		},
	}
	cmd.Flags().StringVar(&checksumArg, "checksum", "", "target fletcher4 checksum as w0:w1:w2:w3 hex words")
	cmd.Flags().IntVar(&psize, "psize", 0, "physical block size in bytes")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default found-block.bin)")
	cmd.MarkFlagRequired("checksum")
	cmd.MarkFlagRequired("psize")
	return cmd
}

func newFindBlockWithChecksumCommand() *cobra.Command {
	var checksumArg string
	var psize int
	cmd := &cobra.Command{
		Use:     "find-block-with-checksum",
		Short:   "Locate a block via the precomputed checksum map and parity-aware convolution",
		GroupID: recoveryCommand,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raidz, vdevs, err := openPool(cmd)
			if err != nil {
				return err
			}
			checksum, err := parseChecksumArg(checksumArg)
			if err != nil {
				return err
			}

			checksumMapPath, _ := cmd.Flags().GetString("checksum-map")
			cachePath, _ := cmd.Flags().GetString("yolo-cache")
			engine := recovery.NewYoloEngine(raidz, vdevs, checksumMapPath, cachePath, logrus.StandardLogger())

			offset, ok := engine.FindBlockByChecksum(checksum, psize)
			if !ok {
				return fmt.Errorf("no candidate offset found for checksum %v", checksum)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", offset)
			return nil
		},
	}
	cmd.Flags().StringVar(&checksumArg, "checksum", "", "target fletcher4 checksum as w0:w1:w2:w3 hex words")
	cmd.Flags().IntVar(&psize, "psize", 0, "physical block size in bytes")
	cmd.MarkFlagRequired("checksum")
	cmd.MarkFlagRequired("psize")
	return cmd
}
