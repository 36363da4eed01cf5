// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the artifact cache",
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.cache.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Swept %d expired entries\n", n)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <kind>",
	Short: "Delete every cached artifact of one kind",
	Long: `Clear drops all artifacts of the given kind so later runs rebuild
them. Clearing "metadata", for example, makes the next ingest refetch
Crossref and arXiv records instead of replaying lookups cached before
an upstream correction.

Kinds: ocr, analysis, embedding, metadata, answer.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{cache.KindOCR, cache.KindAnalysis, cache.KindEmbedding, cache.KindMetadata, cache.KindAnswer},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]
		switch kind {
		case cache.KindOCR, cache.KindAnalysis, cache.KindEmbedding, cache.KindMetadata, cache.KindAnswer:
		default:
			return fmt.Errorf("unknown artifact kind %q", kind)
		}

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.cache.InvalidateKind(cmd.Context(), kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s artifacts\n", n, kind)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.AddCommand(cacheCmd)
}
