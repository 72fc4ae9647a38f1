// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Error1000/szfs/recovery"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newUndeleteCommand() *cobra.Command {
	var start, end int64
	var graphOut string
	cmd := &cobra.Command{
		Use:     "undelete",
		Short:   "Run the four-pass orphan-recovery scan over a byte range and emit the fragment graph",
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
				return fmt.Errorf("undelete scan pass: %w", err)
			}
			log.Infof("undelete: pass 1 found %d fragments", len(graph.Fragments))

			recovery.Link(graph)
			recovery.Expand(raidz, vdevs, graph, log)
			recovery.Rebuild(graph)
			log.Infof("undelete: final graph has %d fragments", len(graph.Fragments))

			return writeGraphSummary(graphOut, graph)
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "start offset of the scan range")
	cmd.Flags().Int64Var(&end, "end", 0, "end offset of the scan range (0 means the whole pool)")
	cmd.Flags().StringVar(&graphOut, "graph-out", "undelete-graph.json", "where to write the fragment graph summary")
	return cmd
}

type fragmentSummary struct {
	Kind     string   `json:"kind"`
	Offset   int64    `json:"offset"`
	Size     int      `json:"size"`
	Children []string `json:"children"`
}

func writeGraphSummary(path string, graph *recovery.Graph) error {
	summary := make(map[string]fragmentSummary, len(graph.Fragments))
	for hash, frag := range graph.Fragments {
		children := make([]string, 0, len(frag.Children))
		for childHash := range frag.Children {
			children = append(children, fmt.Sprintf("%x", childHash))
		}
		summary[fmt.Sprintf("%x", hash)] = fragmentSummary{
			Kind:     frag.Kind.String(),
			Offset:   frag.Offset,
			Size:     frag.Size,
			Children: children,
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph summary %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
