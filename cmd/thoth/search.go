// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid search over indexed papers and notes",
	Long: `Search runs the query against both the vector index and the lexical
index and fuses the rankings, so quoted jargon and paraphrased concepts
both land. Filters narrow by paper metadata before ranking.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		yearFrom, _ := cmd.Flags().GetInt("year-from")
		yearTo, _ := cmd.Flags().GetInt("year-to")
		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withIndex(); err != nil {
			return err
		}

		filter := graphstore.SearchFilter{
			Tags:       tags,
			YearFrom:   yearFrom,
			YearTo:     yearTo,
			Status:     types.PaperStatus(status),
			SourceKind: types.ChunkSource(source),
		}
		hits, err := s.index.Search(cmd.Context(), args[0], top, filter)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, hits)
		}
		if len(hits) == 0 {
			fmt.Fprintln(w, "no results")
			return nil
		}
		for i, h := range hits {
			fmt.Fprintf(w, "%2d. [%.4f] %s (%s v%d)\n", i+1, h.Score,
				dash(h.PaperTitle), h.Chunk.PaperID, h.Chunk.Version)
			if h.Chunk.Heading != "" {
				fmt.Fprintf(w, "    %s\n", h.Chunk.Heading)
			}
			fmt.Fprintf(w, "    %s\n", snippet(h.Chunk.Text, 160))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("top", 0, "number of results (default from config)")
	searchCmd.Flags().StringSlice("tag", nil, "restrict to papers carrying the tag (repeatable)")
	searchCmd.Flags().Int("year-from", 0, "restrict to papers published in or after this year")
	searchCmd.Flags().Int("year-to", 0, "restrict to papers published in or before this year")
	searchCmd.Flags().String("status", "", "restrict to papers with this pipeline status")
	searchCmd.Flags().String("source", "", "restrict to a chunk source: paper_body or generated_note")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(searchCmd)
}
