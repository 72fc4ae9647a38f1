// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Error1000/szfs/pool"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newFSWalkerCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:     "fs-walker PATH",
		Short:   "Walk the active uberblock to the named file and print or extract it",
		GroupID: basicCommand,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, vdevs, err := openPool(cmd)
			if err != nil {
				return err
			}

			leaf0Raw, err := readLeaf0Raw(cmd)
			if err != nil {
				return err
			}

			p := &pool.Pool{Vdevs: vdevs, Log: logrus.StandardLogger()}
			walked, err := p.Walk(leaf0Raw)
			if err != nil {
				return fmt.Errorf("walk pool: %w", err)
			}
			if logrus.GetLevel() >= logrus.TraceLevel {
				logrus.Tracef("fs-walker: resolved pool state:\n%s", spew.Sdump(walked))
			}

			dn := walked.RootDirectory
			components := strings.Split(strings.Trim(args[0], "/"), "/")
			for _, name := range components {
				if name == "" {
					continue
				}
				objID, err := p.LookupDirectory(dn, name)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", name, err)
				}
				dn, err = p.ReadObject(walked.HeadObjectSet, objID)
				if err != nil {
					return fmt.Errorf("read %q: %w", name, err)
				}
			}

			data, err := p.ReadFile(dn)
			if err != nil {
				return fmt.Errorf("read file contents: %w", err)
			}
			if outPath == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the resolved file's contents here instead of stdout")
	return cmd
}
