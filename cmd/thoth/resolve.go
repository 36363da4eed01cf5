// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/citations"
	"github.com/pdiddy/thoth/pkg/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <citation text>",
	Short: "Run the resolution chain on one raw citation",
	Long: `Resolve takes a bibliography entry as written and runs the full chain
against it: DOI lookup, then OpenAlex title search, then arXiv, then
fuzzy matching against the local graph. A newly resolved target is
recorded as a stub paper, the same way pipeline resolution records one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		raw := citations.RawCitation{Text: strings.Join(args, " ")}
		citing := types.Paper{ID: "adhoc"}
		resolved, err := s.newResolver().Resolve(cmd.Context(), citing, 0, []citations.RawCitation{raw})
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			return fmt.Errorf("resolver returned nothing")
		}
		c := resolved[0]

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, c)
		}
		fmt.Fprintf(w, "stage:      %s\n", c.Stage)
		fmt.Fprintf(w, "confidence: %.2f\n", c.Confidence)
		if c.CitedPaperID != "" {
			target, err := s.store.GetPaper(cmd.Context(), c.CitedPaperID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "paper:      %s\n", target.ID)
			fmt.Fprintf(w, "title:      %s\n", dash(target.Title))
			fmt.Fprintf(w, "authors:    %s\n", formatAuthors(target.Authors))
			fmt.Fprintf(w, "year:       %s    venue: %s\n", dash(yearString(target.Year)), dash(target.Venue))
			fmt.Fprintf(w, "doi:        %s    arxiv: %s\n", dash(target.DOI), dash(target.ArxivID))
			return nil
		}
		fmt.Fprintln(w, "no match; citation stays unresolved")
		if c.Fields.Title != "" {
			fmt.Fprintf(w, "parsed title: %s\n", c.Fields.Title)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().Bool("json", false, "output the resolved citation as JSON")

	rootCmd.AddCommand(resolveCmd)
}
