// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/Error1000/szfs/recovery"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newApplyBinPatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apply-binpatch TARGET PATCH",
		Short:   "Replay a binary-patch stream against a target file",
		GroupID: recoveryCommand,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := os.OpenFile(args[0], os.O_RDWR, 0)
			if err != nil {
				return fmt.Errorf("open target %s: %w", args[0], err)
			}
			defer target.Close()

			n, err := recovery.ApplyBinPatch(target, args[1])
			if err != nil {
				return fmt.Errorf("apply binpatch: %w", err)
			}
			logrus.Infof("apply-binpatch: applied %d record(s)", n)
			return nil
		},
	}
	return cmd
}
