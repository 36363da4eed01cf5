// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/graphstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the workspace",
	Long: `Status reports what the workspace holds: papers by pipeline state,
processing versions and indexed chunks, research queries, recorded
ingestion failures, and artifact cache totals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sweep, _ := cmd.Flags().GetBool("sweep-cache")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		papers, err := s.store.ListPapers(ctx, graphstore.Filter{IncludeStubs: true})
		if err != nil {
			return err
		}
		byStatus := map[string]int{}
		stubs := 0
		for _, p := range papers {
			if p.Stub {
				stubs++
				continue
			}
			byStatus[string(p.Status)]++
		}

		report, err := s.store.Verify(ctx)
		if err != nil {
			return err
		}
		queries, err := s.store.ListQueries(ctx, false)
		if err != nil {
			return err
		}
		active := 0
		for _, q := range queries {
			if q.Active {
				active++
			}
		}
		failures, err := s.store.Failures(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "workspace: %s\n\n", s.cfg.Workspace)
		fmt.Fprintf(w, "papers:    %s (%d stubs)\n", humanize.Comma(int64(len(papers)-stubs)), stubs)
		for _, st := range []string{"complete", "partial", "processing", "pending", "failed"} {
			if n := byStatus[st]; n > 0 {
				fmt.Fprintf(w, "           %-10s %d\n", st, n)
			}
		}
		fmt.Fprintf(w, "versions:  %d (%d active)\n", report.Versions, report.ActiveVersions)
		fmt.Fprintf(w, "chunks:    %s indexed\n", humanize.Comma(int64(report.Chunks)))
		fmt.Fprintf(w, "queries:   %d (%d active)\n", len(queries), active)
		fmt.Fprintf(w, "failures:  %d\n", len(failures))

		if sweep {
			if _, err := s.cache.Sweep(ctx); err != nil {
				return err
			}
		}
		stats, err := s.cache.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "cache:     %s entries, %s\n",
			humanize.Comma(stats.Entries), humanize.Bytes(uint64(stats.Bytes)))

		if !report.Clean() {
			fmt.Fprintln(w, "\nstore has inconsistencies; run `thoth papers verify` for details")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("sweep-cache", false, "delete expired cache entries before reporting")

	rootCmd.AddCommand(statusCmd)
}
