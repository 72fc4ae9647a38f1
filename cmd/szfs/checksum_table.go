// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/Error1000/szfs/recovery"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newBuildChecksumTableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build-checksum-table",
		Short:   "Precompute a per-sector checksum map used by YOLO block recovery",
		GroupID: recoveryCommand,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raidz, _, err := openPool(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("checksum-map")
			if err := recovery.BuildChecksumTable(raidz, path, logrus.StandardLogger()); err != nil {
				return fmt.Errorf("build checksum table: %w", err)
			}
			return nil
		},
	}
	return cmd
}
