// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the btcreate command line tool: it builds a
// .torrent file from a source path using the v1, v2, or hybrid metadata
// engine (spec §6).
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietswarm/btcore/meta"
)

var (
	outPath      string
	pieceLength  int64
	announce     string
	announceTier string
	comment      string
	createdBy    string
	private      bool

	rootCmd = &cobra.Command{
		Use:   "btcreate",
		Short: "btcreate builds BitTorrent v1, v2, or hybrid .torrent metadata files.",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "output .torrent path (defaults to <name>.torrent)")
	rootCmd.PersistentFlags().Int64VarP(&pieceLength, "piece-length", "l", 0, "piece length in bytes (0 selects a size-tiered default)")
	rootCmd.PersistentFlags().StringVarP(&announce, "announce", "a", "", "primary announce URL")
	rootCmd.PersistentFlags().StringVar(&announceTier, "announce-list", "", "comma-separated fallback announce URLs, one tier")
	rootCmd.PersistentFlags().StringVarP(&comment, "comment", "c", "", "torrent comment")
	rootCmd.PersistentFlags().StringVar(&createdBy, "created-by", "btcreate", "creator string")
	rootCmd.PersistentFlags().BoolVar(&private, "private", false, "mark the torrent private (BEP 27)")

	rootCmd.AddCommand(v1Cmd, v2Cmd, hybridCmd)
}

// Execute runs the root command, exiting the process on error as
// cobra-based kraken CLIs do.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var v1Cmd = &cobra.Command{
	Use:   "v1 <source>",
	Short: "Create a BEP 3 (v1-only) torrent.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate(meta.ModeV1),
}

var v2Cmd = &cobra.Command{
	Use:   "v2 <source>",
	Short: "Create a BEP 52 (v2-only) torrent.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate(meta.ModeV2),
}

var hybridCmd = &cobra.Command{
	Use:   "hybrid <source>",
	Short: "Create a hybrid v1/v2 torrent readable by both generations of client.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate(meta.ModeHybrid),
}

func runCreate(mode meta.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		src := args[0]

		opts := meta.GenerateOptions{
			Mode:         mode,
			PieceLength:  pieceLength,
			Announce:     announce,
			Comment:      comment,
			CreatedBy:    createdBy,
			CreationDate: time.Now().Unix(),
			Private:      private,
		}
		if announceTier != "" {
			opts.AnnounceList = meta.AnnounceList{strings.Split(announceTier, ",")}
		}

		container, err := meta.Generate(src, opts)
		if err != nil {
			return fmt.Errorf("generate torrent: %s", err)
		}

		raw, err := container.Bencode()
		if err != nil {
			return fmt.Errorf("encode torrent: %s", err)
		}

		dst := outPath
		if dst == "" {
			dst = defaultOutPath(src)
		}
		if err := os.WriteFile(dst, raw, 0644); err != nil {
			return fmt.Errorf("write torrent: %s", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dst)
		return nil
	}
}

func defaultOutPath(src string) string {
	name := strings.TrimRight(src, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name + ".torrent"
}
