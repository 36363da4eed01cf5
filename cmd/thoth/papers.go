// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/graphstore"
	"github.com/pdiddy/thoth/pkg/types"
)

var papersCmd = &cobra.Command{
	Use:   "papers",
	Short: "Inspect and manage the paper store",
}

var papersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List papers, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		tag, _ := cmd.Flags().GetString("tag")
		yearFrom, _ := cmd.Flags().GetInt("year-from")
		yearTo, _ := cmd.Flags().GetInt("year-to")
		title, _ := cmd.Flags().GetString("title")
		stubs, _ := cmd.Flags().GetBool("stubs")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		papers, err := s.store.ListPapers(cmd.Context(), graphstore.Filter{
			Status:       types.PaperStatus(status),
			Tag:          tag,
			YearFrom:     yearFrom,
			YearTo:       yearTo,
			TitleLike:    title,
			IncludeStubs: stubs,
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, papers)
		}
		if len(papers) == 0 {
			fmt.Fprintln(w, "no papers")
			return nil
		}
		fmt.Fprintf(w, "%-12s  %-10s  %-4s  %s\n", "ID", "STATUS", "YEAR", "TITLE")
		for _, p := range papers {
			year := "-"
			if p.Year != 0 {
				year = fmt.Sprintf("%d", p.Year)
			}
			title := p.Title
			if title == "" {
				title = "(untitled)"
			}
			if p.Stub {
				title += " [stub]"
			}
			fmt.Fprintf(w, "%-12s  %-10s  %-4s  %s\n", p.ID, p.Status, year, snippet(title, 88))
		}
		fmt.Fprintf(w, "\n%d papers\n", len(papers))
		return nil
	},
}

var papersShowCmd = &cobra.Command{
	Use:   "show <paper-id>",
	Short: "Show one paper with its versions and citation counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		paper, err := s.store.GetPaper(ctx, args[0])
		if err != nil {
			return err
		}
		versions, err := s.store.ListVersions(ctx, paper.ID)
		if err != nil {
			return err
		}
		outgoing, err := s.store.ActiveCitations(ctx, paper.ID)
		if err != nil {
			return err
		}
		incoming, err := s.store.CitedBy(ctx, paper.ID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, struct {
				Paper     types.Paper               `json:"paper"`
				Versions  []types.ProcessingVersion `json:"versions"`
				Citations []types.Citation          `json:"citations"`
				CitedBy   []types.Citation          `json:"cited_by"`
			}{paper, versions, outgoing, incoming})
		}

		fmt.Fprintf(w, "Paper:    %s (%s)\n", paper.ID, paper.Status)
		fmt.Fprintf(w, "Title:    %s\n", dash(paper.Title))
		fmt.Fprintf(w, "Authors:  %s\n", formatAuthors(paper.Authors))
		fmt.Fprintf(w, "Year:     %s    Venue: %s\n", dash(yearString(paper.Year)), dash(paper.Venue))
		fmt.Fprintf(w, "DOI:      %s    arXiv: %s\n", dash(paper.DOI), dash(paper.ArxivID))
		if len(paper.Tags) > 0 {
			fmt.Fprintf(w, "Tags:     %s\n", snippet(strings.Join(paper.Tags, ", "), 100))
		}
		if paper.PDFPath != "" {
			fmt.Fprintf(w, "PDF:      %s\n", paper.PDFPath)
		}
		if paper.MarkdownPath != "" {
			fmt.Fprintf(w, "Markdown: %s\n", paper.MarkdownPath)
		}
		fmt.Fprintf(w, "Indexed:  %s\n", yesNo(paper.EmbeddingsGenerated))

		if len(versions) > 0 {
			fmt.Fprintln(w, "\nVersions:")
			for _, v := range versions {
				marker := " "
				if v.Active {
					marker = "*"
				}
				fmt.Fprintf(w, "  %s v%-3d %s  %s  %s\n", marker, v.Version,
					v.ProcessedAt.Format("2006-01-02 15:04"), v.ModelID, v.Strategy)
			}
		}

		resolved := 0
		for _, c := range outgoing {
			if c.CitedPaperID != "" {
				resolved++
			}
		}
		fmt.Fprintf(w, "\nCitations: %d outgoing (%d resolved), %d incoming\n",
			len(outgoing), resolved, len(incoming))
		return nil
	},
}

var papersGraphCmd = &cobra.Command{
	Use:   "graph <paper-id>",
	Short: "Walk the citation graph around a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction, _ := cmd.Flags().GetString("direction")
		depth, _ := cmd.Flags().GetInt("depth")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		neighbors, err := s.store.Neighbors(cmd.Context(), args[0], graphstore.Direction(direction), depth)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, neighbors)
		}
		if len(neighbors) == 0 {
			fmt.Fprintln(w, "no resolved citation edges")
			return nil
		}
		lastDepth := 0
		for _, n := range neighbors {
			if n.Depth != lastDepth {
				fmt.Fprintf(w, "depth %d:\n", n.Depth)
				lastDepth = n.Depth
			}
			title := n.Paper.Title
			if title == "" {
				title = "(untitled)"
			}
			if n.Paper.Stub {
				title += " [stub]"
			}
			fmt.Fprintf(w, "  %-12s  %s\n", n.Paper.ID, snippet(title, 92))
		}
		return nil
	},
}

var papersReingestCmd = &cobra.Command{
	Use:   "reingest <paper-id>",
	Short: "Reprocess a paper's stored PDF as a new version",
	Long: `Reingest runs the stored PDF through the pipeline again, forcing a new
processing version even when nothing changed. The old version stays
recorded but inactive; search serves only the new one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		res, err := s.pipe.Reingest(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reprocessed %s as v%d (%d citations, %d chunks)\n",
			res.Paper.ID, res.Version, res.Citations, res.Chunks)
		return nil
	},
}

var papersDeleteCmd = &cobra.Command{
	Use:   "delete <paper-id>",
	Short: "Delete a paper and everything derived from it",
	Long: `Delete removes the paper row, its processing versions, chunks, vectors,
version markdown files, and outgoing citations. Citations from other
papers that resolved to it revert to unresolved. The source PDF and any
rendered note are left on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withIndex(); err != nil {
			return err
		}

		ctx := cmd.Context()
		versions, err := s.store.ListVersions(ctx, args[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			if err := s.index.RemoveVersion(ctx, args[0], v.Version); err != nil {
				return err
			}
			removeQuiet(v.MarkdownPath, v.MarkdownPathNoImages)
		}
		if err := s.store.DeletePaper(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d versions)\n", args[0], len(versions))
		return nil
	},
}

var papersPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old inactive processing versions",
	Long: `Prune removes inactive versions processed before the cutoff, along with
their markdown files and any vectors still attached. Active versions and
the papers themselves are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.withIndex(); err != nil {
			return err
		}

		ctx := cmd.Context()
		pruned, err := s.store.PruneInactiveVersions(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		for _, p := range pruned {
			if err := s.index.RemoveVersion(ctx, p.PaperID, p.Version); err != nil {
				return err
			}
			removeQuiet(p.MarkdownPath, p.MarkdownPathNoImages)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d inactive versions\n", len(pruned))
		return nil
	},
}

var papersFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List documents the pipeline could not ingest",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		failures, err := s.store.Failures(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			return printJSON(w, failures)
		}
		if len(failures) == 0 {
			fmt.Fprintln(w, "no recorded failures")
			return nil
		}
		for _, f := range failures {
			fmt.Fprintf(w, "%s\n", f.PDFPath)
			fmt.Fprintf(w, "    stage %s, %s, %d attempts, last %s\n",
				f.Stage, f.ErrorKind, f.Attempts, humanize.Time(f.LastFailedAt))
			fmt.Fprintf(w, "    %s\n", snippet(f.Message, 140))
		}
		fmt.Fprintf(w, "\n%d failures\n", len(failures))
		return nil
	},
}

var papersVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check store consistency",
	Long: `Verify counts papers, versions, and chunks, and checks for orphaned
chunks, citations pointing at deleted papers, processed papers without
an active version, and stored PDF paths whose files are gone. With --fix
it also sweeps orphaned chunks from both indexes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")

		s, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		if fix {
			if err := s.withIndex(); err != nil {
				return err
			}
			removed, err := s.index.RemoveOrphans(ctx)
			if err != nil {
				return err
			}
			if removed > 0 {
				fmt.Fprintf(w, "removed %d orphaned chunks\n", removed)
			}
		}

		report, err := s.store.Verify(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "papers: %d, versions: %d (%d active), chunks: %d\n",
			report.Papers, report.Versions, report.ActiveVersions, report.Chunks)
		if report.Clean() {
			fmt.Fprintln(w, "store is consistent")
			return nil
		}
		if report.OrphanChunks > 0 {
			fmt.Fprintf(w, "orphaned chunks: %d (run with --fix to remove)\n", report.OrphanChunks)
		}
		if report.DanglingCitations > 0 {
			fmt.Fprintf(w, "citations resolved to missing papers: %d\n", report.DanglingCitations)
		}
		if report.StatusMismatches > 0 {
			fmt.Fprintf(w, "processed papers without an active version: %d\n", report.StatusMismatches)
		}
		for _, path := range report.MissingFiles {
			fmt.Fprintf(w, "missing file: %s\n", path)
		}
		return fmt.Errorf("store has inconsistencies")
	},
}

func yearString(year int) string {
	if year == 0 {
		return ""
	}
	return fmt.Sprintf("%d", year)
}

// removeQuiet deletes files that may already be gone.
func removeQuiet(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		os.Remove(p)
	}
}

func init() {
	papersListCmd.Flags().String("status", "", "filter by status: pending, processing, complete, partial, or failed")
	papersListCmd.Flags().String("tag", "", "filter by tag")
	papersListCmd.Flags().Int("year-from", 0, "filter by publication year lower bound")
	papersListCmd.Flags().Int("year-to", 0, "filter by publication year upper bound")
	papersListCmd.Flags().String("title", "", "filter by title substring")
	papersListCmd.Flags().Bool("stubs", false, "include citation-target stubs")
	papersListCmd.Flags().Bool("json", false, "output papers as JSON")

	papersShowCmd.Flags().Bool("json", false, "output the paper as JSON")

	papersGraphCmd.Flags().String("direction", "both", "edge direction: out (references), in (cited by), or both")
	papersGraphCmd.Flags().Int("depth", 1, "number of hops to walk")
	papersGraphCmd.Flags().Bool("json", false, "output neighbors as JSON")

	papersPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "prune versions processed before now minus this duration")

	papersFailuresCmd.Flags().Bool("json", false, "output failures as JSON")

	papersVerifyCmd.Flags().Bool("fix", false, "sweep orphaned chunks from the indexes")

	papersCmd.AddCommand(papersListCmd, papersShowCmd, papersGraphCmd,
		papersReingestCmd, papersDeleteCmd, papersPruneCmd,
		papersFailuresCmd, papersVerifyCmd)
	rootCmd.AddCommand(papersCmd)
}
