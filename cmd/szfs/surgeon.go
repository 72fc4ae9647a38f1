// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Error1000/szfs/recovery"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// manifestChunk is the on-disk JSON shape of one surgeon manifest entry:
// a chunk boundary plus, for every bad region inside it, the list of
// candidate byte sources (each already resolved to raw bytes by an
// earlier recovery pass) as hex strings.
type manifestChunk struct {
	Offset              int64    `json:"offset"`
	KnownHex            string   `json:"known_hex"`
	ExpectedPrefixHex   string   `json:"expected_prefix_hex"`
	ExpectedSuffixHex   string   `json:"expected_suffix_hex"`
	BadRegions          []struct {
		OffsetInChunk int      `json:"offset_in_chunk"`
		Length        int      `json:"length"`
		CandidatesHex []string `json:"candidates_hex"`
	} `json:"bad_regions"`
}

func newSurgeonCommand() *cobra.Command {
	var manifestPath, binpatchOut string
	cmd := &cobra.Command{
		Use:     "surgeon",
		Short:   "Resolve ambiguous chunks against a format-aware manifest and emit binary patches",
		GroupID: recoveryCommand,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("read manifest %s: %w", manifestPath, err)
			}
			var manifest []manifestChunk
			if err := json.Unmarshal(raw, &manifest); err != nil {
				return fmt.Errorf("parse manifest %s: %w", manifestPath, err)
			}

			chunks := make([]recovery.Chunk, 0, len(manifest))
			for _, m := range manifest {
				c, err := decodeManifestChunk(m)
				if err != nil {
					return err
				}
				chunks = append(chunks, c)
			}

			records, skipped := recovery.RepairAll(chunks)
			if skipped > 0 {
				logrus.Warnf("surgeon: %d chunk(s) left unresolved (zero or multiple format matches)", skipped)
			}

			return recovery.WriteBinPatch(binpatchOut, records)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the chunk manifest JSON")
	cmd.Flags().StringVar(&binpatchOut, "out", "repair.binpatch", "path to write the resulting binary patch")
	cmd.MarkFlagRequired("manifest")
	return cmd
}

func decodeManifestChunk(m manifestChunk) (recovery.Chunk, error) {
	known, err := hexDecode(m.KnownHex)
	if err != nil {
		return recovery.Chunk{}, fmt.Errorf("chunk at offset %d: known_hex: %w", m.Offset, err)
	}
	prefix, err := hexDecode(m.ExpectedPrefixHex)
	if err != nil {
		return recovery.Chunk{}, fmt.Errorf("chunk at offset %d: expected_prefix_hex: %w", m.Offset, err)
	}
	suffix, err := hexDecode(m.ExpectedSuffixHex)
	if err != nil {
		return recovery.Chunk{}, fmt.Errorf("chunk at offset %d: expected_suffix_hex: %w", m.Offset, err)
	}

	c := recovery.Chunk{
		Offset:               m.Offset,
		Known:                known,
		ExpectedMagicPrefix:  prefix,
		ExpectedMagicSuffix:  suffix,
	}
	for _, br := range m.BadRegions {
		region := recovery.BadRegion{OffsetInChunk: br.OffsetInChunk, Length: br.Length}
		for _, ch := range br.CandidatesHex {
			cand, err := hexDecode(ch)
			if err != nil {
				return recovery.Chunk{}, fmt.Errorf("chunk at offset %d: candidate: %w", m.Offset, err)
			}
			region.Candidates = append(region.Candidates, cand)
		}
		c.BadRegions = append(c.BadRegions, region)
	}
	return c, nil
}

func hexDecode(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
