// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed library",
	Long: `Ask retrieves the most relevant chunks for the question and has the
answer model respond using only that material, citing sources by number.
When nothing relevant is indexed the command fails rather than letting
the model answer from its own knowledge.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")
		minSim, _ := cmd.Flags().GetFloat64("min-similarity")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withIndex(); err != nil {
			return err
		}

		answer, err := s.index.Ask(cmd.Context(), args[0], top, minSim)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, answer)
		}
		fmt.Fprintln(w, answer.Text)
		if len(answer.Sources) > 0 {
			fmt.Fprintln(w, "\nSources:")
			for i, h := range answer.Sources {
				fmt.Fprintf(w, "  [%d] %s (%s v%d", i+1, dash(h.PaperTitle),
					h.Chunk.PaperID, h.Chunk.Version)
				if h.Chunk.Heading != "" {
					fmt.Fprintf(w, ", %s", h.Chunk.Heading)
				}
				fmt.Fprintln(w, ")")
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().Float64("min-similarity", 0.3, "minimum dense similarity for a chunk to qualify")
	askCmd.Flags().Bool("json", false, "output the answer and sources as JSON")

	rootCmd.AddCommand(askCmd)
}
