// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [pdfs...]",
	Short: "Process PDF files into the knowledge base",
	Long: `Ingest runs each PDF through the full pipeline: markdown conversion,
structured analysis, citation extraction and resolution, note rendering,
and hybrid indexing. An unchanged PDF under an unchanged configuration
is a no-op; --force reprocesses it as a new version anyway.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withPipeline(); err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := s.pipe.Recover(ctx); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		var processed, unchanged, partial, failed int
		for _, path := range args {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res, err := s.pipe.Process(ctx, path, force)
			switch {
			case err != nil:
				failed++
				fmt.Fprintf(w, "failed:    %s (%v)\n", path, err)
			case res.Reused:
				unchanged++
				fmt.Fprintf(w, "unchanged: %s (paper %s v%d)\n", path, res.Paper.ID, res.Version)
			case res.Partial:
				partial++
				fmt.Fprintf(w, "partial:   %s (paper %s v%d, %d chunks; analysis failed validation)\n",
					path, res.Paper.ID, res.Version, res.Chunks)
			default:
				processed++
				fmt.Fprintf(w, "processed: %s (paper %s v%d, %d citations, %d chunks)\n",
					path, res.Paper.ID, res.Version, res.Citations, res.Chunks)
			}
		}

		fmt.Fprintf(w, "\n%d processed, %d unchanged, %d partial, %d failed\n",
			processed, unchanged, partial, failed)
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("force", false, "reprocess even when the PDF and configuration are unchanged")

	rootCmd.AddCommand(ingestCmd)
}
