// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/Error1000/szfs/recovery"
	"github.com/Error1000/szfs/zfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRecoverCommand() *cobra.Command {
	var start, end, targetOffset int64
	var outPath string
	cmd := &cobra.Command{
		Use:     "recover",
		Short:   "Rebuild one file from the fragments found by a prior undelete scan",
		GroupID: recoveryCommand,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raidz, vdevs, err := openPool(cmd)
			if err != nil {
				return err
			}
			if end == 0 {
				end = raidz.Size()
			}
			log := logrus.StandardLogger()

			graph, err := recovery.Scan(raidz, vdevs, start, end, log)
			if err != nil {
				return fmt.Errorf("scan for recoverable fragments: %w", err)
			}

			var target *zfs.DNode
			for _, frag := range graph.Fragments {
				if frag.Offset == targetOffset && frag.DNode != nil {
					target = frag.DNode
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no file-dnode fragment found at offset %d", targetOffset)
			}

			var candidates []*zfs.DNode
			for _, frag := range graph.Fragments {
				if frag.DNode == nil {
					continue
				}
				if frag.DNode.MaxBlockID == target.MaxBlockID && frag.DNode.DataBlockSizeSectors == target.DataBlockSizeSectors {
					candidates = append(candidates, frag.DNode)
				}
			}
			log.Infof("recover: %d equivalent file-dnode candidates for offset %d", len(candidates), targetOffset)

			var out []byte
			for i := uint64(0); i <= target.MaxBlockID; i++ {
				block, ok := recovery.AggregatedRead(vdevs, log, nil, candidates, i)
				if !ok {
					return fmt.Errorf("recover: block %d unrecoverable across %d candidates", i, len(candidates))
				}
				out = append(out, block...)
			}

			return os.WriteFile(outPath, out, 0o644)
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "start offset of the fragment scan range")
	cmd.Flags().Int64Var(&end, "end", 0, "end offset of the fragment scan range (0 means the whole pool)")
	cmd.Flags().Int64Var(&targetOffset, "offset", 0, "disk offset of the file-dnode fragment to rebuild")
	cmd.Flags().StringVar(&outPath, "out", "recovered-file.bin", "output path")
	cmd.MarkFlagRequired("offset")
	return cmd
}
